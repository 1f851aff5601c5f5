package ingestion_engine

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

type xlsxWorkbook struct {
	Sheets []struct {
		Name string `xml:"name,attr"`
		RID  string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sheets>sheet"`
}

type xlsxRels struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

type xlsxRichText struct {
	T string `xml:"t"`
	R []struct {
		T string `xml:"t"`
	} `xml:"r"`
}

func (rt xlsxRichText) String() string {
	if len(rt.R) == 0 {
		return rt.T
	}
	var sb strings.Builder
	for _, r := range rt.R {
		sb.WriteString(r.T)
	}
	return sb.String()
}

type xlsxSharedStrings struct {
	Items []xlsxRichText `xml:"si"`
}

type xlsxSheet struct {
	Rows []struct {
		Cells []struct {
			Type   string       `xml:"t,attr"`
			Value  string       `xml:"v"`
			Inline xlsxRichText `xml:"is"`
		} `xml:"c"`
	} `xml:"sheetData>row"`
}

// extractXLSX writes one "## Sheet: <name>" heading per sheet followed by its
// rows, cells joined by tabs. Empty rows are dropped.
func extractXLSX(ctx context.Context, data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open xlsx archive: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var wb xlsxWorkbook
	if err := decodeZipXML(files, "xl/workbook.xml", &wb); err != nil {
		return "", err
	}
	var rels xlsxRels
	if err := decodeZipXML(files, "xl/_rels/workbook.xml.rels", &rels); err != nil {
		return "", err
	}
	targets := make(map[string]string, len(rels.Items))
	for _, r := range rels.Items {
		targets[r.ID] = sheetPath(r.Target)
	}

	var shared []string
	if _, ok := files["xl/sharedStrings.xml"]; ok {
		var sst xlsxSharedStrings
		if err := decodeZipXML(files, "xl/sharedStrings.xml", &sst); err != nil {
			return "", err
		}
		shared = make([]string, len(sst.Items))
		for i, si := range sst.Items {
			shared[i] = si.String()
		}
	}

	var sb strings.Builder
	for _, s := range wb.Sheets {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		target, ok := targets[s.RID]
		if !ok {
			continue
		}
		var sheet xlsxSheet
		if err := decodeZipXML(files, target, &sheet); err != nil {
			return "", err
		}

		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("## Sheet: ")
		sb.WriteString(s.Name)
		sb.WriteString("\n")

		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			nonEmpty := false
			for _, c := range row.Cells {
				v := cellValue(c.Type, c.Value, c.Inline, shared)
				if v != "" {
					nonEmpty = true
				}
				cells = append(cells, v)
			}
			if !nonEmpty {
				continue
			}
			sb.WriteString(strings.Join(cells, "\t"))
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func cellValue(typ, value string, inline xlsxRichText, shared []string) string {
	switch typ {
	case "s":
		idx, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || idx < 0 || idx >= len(shared) {
			return ""
		}
		return strings.TrimSpace(shared[idx])
	case "inlineStr":
		return strings.TrimSpace(inline.String())
	case "b":
		if value == "1" {
			return "TRUE"
		}
		return "FALSE"
	default:
		return strings.TrimSpace(value)
	}
}

// sheetPath resolves a relationship target against the xl/ directory.
func sheetPath(target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Join("xl", target)
}

func decodeZipXML(files map[string]*zip.File, name string, v any) error {
	f, ok := files[name]
	if !ok {
		return fmt.Errorf("xlsx: missing %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("xlsx: open %s: %w", name, err)
	}
	defer rc.Close()

	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("xlsx: decode %s: %w", name, err)
	}
	return nil
}

// extractCSV serialises rows with cells joined by tabs. Ragged rows are
// accepted.
func extractCSV(ctx context.Context, data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var sb strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv: %w", err)
		}
		line := strings.TrimSpace(strings.Join(record, "\t"))
		if line == "" {
			continue
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
