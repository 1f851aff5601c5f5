package core

import "errors"

// Pipeline errors. Infrastructure failures are wrapped around these or
// returned as-is from the client that produced them.
var (
	// ErrSourceNotFound covers both missing records and records owned by a
	// different organization.
	ErrSourceNotFound = errors.New("source not found")

	// ErrUnsupportedContentType means no extraction strategy matches the file.
	ErrUnsupportedContentType = errors.New("unsupported content type")

	// ErrInvalidChunkConfig means overlap >= chunk size or a non-positive size.
	ErrInvalidChunkConfig = errors.New("invalid chunk config")

	// ErrEmptyExtraction means the extractor produced no text.
	ErrEmptyExtraction = errors.New("extraction produced no content")

	// ErrMissingOrganization guards every vector index read.
	ErrMissingOrganization = errors.New("organization id is required")

	// ErrInvalidPayload rejects malformed task payloads.
	ErrInvalidPayload = errors.New("invalid task payload")
)
