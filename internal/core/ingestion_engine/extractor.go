package ingestion_engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/dslipak/pdf"
	"github.com/gabriel-vasile/mimetype"
	"github.com/lu4p/cat"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

const (
	mimePDF      = "application/pdf"
	mimeDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeDoc      = "application/msword"
	mimeODT      = "application/vnd.oasis.opendocument.text"
	mimeRTF      = "application/rtf"
	mimeHTML     = "text/html"
	mimeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeCSV      = "text/csv"
	mimeText     = "text/plain"
	mimeMarkdown = "text/markdown"
	mimeJSON     = "application/json"
	mimeOctet    = "application/octet-stream"
)

// DefaultPageTimeout bounds text extraction of a single PDF page.
const DefaultPageTimeout = 10 * time.Second

var mimeAliases = map[string]string{
	"application/x-pdf":     mimePDF,
	"text/rtf":              mimeRTF,
	"application/x-rtf":     mimeRTF,
	"text/x-markdown":       mimeMarkdown,
	"application/csv":       mimeCSV,
	"image/jpg":             "image/jpeg",
	"image/pjpeg":           "image/jpeg",
	"image/x-png":           "image/png",
	"application/xhtml+xml": mimeHTML,
}

var imageTypes = map[string]bool{
	"image/png":     true,
	"image/jpeg":    true,
	"image/webp":    true,
	"image/gif":     true,
	"image/heic":    true,
	"image/svg+xml": true,
}

type extractFunc func(ctx context.Context, data []byte) (string, error)

var _ core.ContentExtractor = (*Extractor)(nil)

// Extractor turns raw bytes of a known format into plain text. Strategies
// are keyed by normalised MIME type.
type Extractor struct {
	describer   core.ImageDescriber
	pageTimeout time.Duration
	strategies  map[string]extractFunc
}

// NewExtractor builds the strategy table. describer may be nil, in which
// case images are reported as unsupported.
func NewExtractor(describer core.ImageDescriber) *Extractor {
	e := &Extractor{
		describer:   describer,
		pageTimeout: DefaultPageTimeout,
	}
	e.strategies = map[string]extractFunc{
		mimePDF:      e.extractPDF,
		mimeDocx:     extractDocx,
		mimeDoc:      extractDoc,
		mimeODT:      extractCat,
		mimeRTF:      extractCat,
		mimeHTML:     extractHTML,
		mimeXLSX:     extractXLSX,
		mimeCSV:      extractCSV,
		mimeText:     extractPlain,
		mimeMarkdown: extractPlain,
		mimeJSON:     extractPlain,
	}
	if describer != nil {
		for t := range imageTypes {
			e.strategies[t] = e.describeImage
		}
	}
	return e
}

// Supports reports whether a declared MIME type has a strategy.
func (e *Extractor) Supports(mimeType string) bool {
	_, ok := e.strategies[NormalizeMIME(mimeType)]
	return ok
}

// ExtractBase64 decodes base64 content and extracts it.
func (e *Extractor) ExtractBase64(ctx context.Context, encoded, mimeType string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("decode base64 content: %w", err)
	}
	return e.Extract(ctx, data, mimeType)
}

// Extract returns the plain text of data. Whitespace-only output comes back
// as "" with a nil error so the caller can decide what empty means.
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	mt := NormalizeMIME(mimeType)
	if mt == "" || mt == mimeOctet {
		mt = NormalizeMIME(mimetype.Detect(data).String())
		zlog.Debug("detected content type", zap.String("declared", mimeType), zap.String("detected", mt))
	}

	fn, ok := e.strategies[mt]
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrUnsupportedContentType, mt)
	}

	text, err := fn(ctx, data)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", mt, err)
	}

	text = strings.TrimSpace(text)
	return text, nil
}

// NormalizeMIME lower-cases a MIME type, strips its parameters and folds
// common aliases.
func NormalizeMIME(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if mt == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	} else if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if alias, ok := mimeAliases[mt]; ok {
		return alias
	}
	return mt
}

// extractPDF reads the text layer page by page. Pages that fail or time out
// are skipped so one broken page does not lose the whole document.
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var sb strings.Builder
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := e.protectExtract(ctx, page)
		if err != nil {
			zlog.Warn("skipping pdf page", zap.Int("page", i), zap.Error(err))
			continue
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(content)
	}
	return sb.String(), nil
}

func (e *Extractor) protectExtract(ctx context.Context, page pdf.Page) (string, error) {
	type result struct {
		content string
		err     error
	}
	resChan := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resChan <- result{err: fmt.Errorf("page parser panic: %v", r)}
			}
		}()
		content, err := page.GetPlainText(nil)
		resChan <- result{content, err}
	}()

	timer := time.NewTimer(e.pageTimeout)
	defer timer.Stop()

	select {
	case r := <-resChan:
		return r.content, r.err
	case <-timer.C:
		return "", errors.New("page extraction timed out")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func extractDocx(_ context.Context, data []byte) (string, error) {
	text, _, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to extract docx: %w", err)
	}
	return text, nil
}

func extractDoc(_ context.Context, data []byte) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), mimeDoc, false)
	if err != nil {
		return "", fmt.Errorf("failed to extract doc: %w", err)
	}
	if res.Error != "" {
		return "", errors.New(res.Error)
	}
	return res.Body, nil
}

// extractCat handles .odt and .rtf.
func extractCat(_ context.Context, data []byte) (string, error) {
	text, err := cat.FromBytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to extract document: %w", err)
	}
	return text, nil
}

func extractHTML(_ context.Context, data []byte) (string, error) {
	text, _, err := docconv.ConvertHTML(bytes.NewReader(data), false)
	if err != nil {
		return "", fmt.Errorf("failed to extract html: %w", err)
	}
	return text, nil
}

func extractPlain(_ context.Context, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), ""), nil
	}
	return string(data), nil
}

func (e *Extractor) describeImage(ctx context.Context, data []byte) (string, error) {
	mt := NormalizeMIME(mimetype.Detect(data).String())
	if !imageTypes[mt] {
		mt = "image/png"
	}
	return e.describer.DescribeImage(ctx, data, mt)
}
