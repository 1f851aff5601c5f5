package ingestion_engine

import (
	"time"

	"github.com/markdave123-py/kbsync/internal/models"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// NeedsUpdate reports whether the stored embeddings of a source are missing
// or older than the source. Equal timestamps are current.
func NeedsUpdate(existing []models.ExistingEmbedding, sourceUpdatedAt string) bool {
	if len(existing) == 0 {
		return true
	}
	for _, e := range existing {
		if e.UpdatedAt == "" {
			return true
		}
		if olderThan(e.UpdatedAt, sourceUpdatedAt) {
			return true
		}
	}
	return false
}

// olderThan compares parsed instants when both sides parse and falls back to
// string order otherwise.
func olderThan(stored, source string) bool {
	st, okStored := parseTimestamp(stored)
	src, okSource := parseTimestamp(source)
	if okStored && okSource {
		return st.Before(src)
	}
	return stored < source
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way embeddings store it: RFC 3339 in UTC
// with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
