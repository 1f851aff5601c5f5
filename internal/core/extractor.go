package core

import (
	"context"
)

// ContentExtractor converts raw file content into UTF-8 plain text.
//
// An empty result is valid and means the file carries no text; callers must
// treat it as "no content" rather than an error.
type ContentExtractor interface {
	// Extract dispatches on the declared (or detected) MIME type.
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
	// ExtractBase64 decodes base64 content and extracts it.
	ExtractBase64(ctx context.Context, encoded string, mimeType string) (string, error)
}
