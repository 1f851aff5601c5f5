package ingestion_engine

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/kbsync/internal/core"
)

const (
	// DefaultChunkSize is the window length in runes.
	DefaultChunkSize = 500
	// DefaultChunkOverlap is how many runes consecutive windows share.
	DefaultChunkOverlap = 50
)

// Chunk splits text into fixed-size overlapping windows measured in runes.
//
// Window i starts at i*(chunkSize-overlap). The last window is the first one
// whose end reaches the end of the text, so every rune is covered and no
// window is a pure suffix of its predecessor.
func Chunk(text string, chunkSize, overlap int) ([]string, error) {
	if chunkSize <= 0 || overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", core.ErrInvalidChunkConfig, chunkSize, overlap)
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	step := chunkSize - overlap
	chunks := make([]string, 0, n/step+1)
	for start := 0; ; start += step {
		end := start + chunkSize
		if end > n {
			end = n
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == n {
			break
		}
	}
	return chunks, nil
}

// Stitch reverses Chunk: it drops the shared prefix of every window after
// the first.
func Stitch(chunks []string, overlap int) string {
	var sb strings.Builder
	for i, c := range chunks {
		if i == 0 {
			sb.WriteString(c)
			continue
		}
		r := []rune(c)
		if overlap < len(r) {
			sb.WriteString(string(r[overlap:]))
		}
	}
	return sb.String()
}
