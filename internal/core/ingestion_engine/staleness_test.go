package ingestion_engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/kbsync/internal/models"
)

func TestNeedsUpdate(t *testing.T) {
	one := func(ts string) []models.ExistingEmbedding {
		return []models.ExistingEmbedding{{ID: "x_chunk0", UpdatedAt: ts}}
	}

	cases := []struct {
		name     string
		existing []models.ExistingEmbedding
		source   string
		want     bool
	}{
		{"never embedded", nil, "2024-02-01", true},
		{"never embedded any timestamp", []models.ExistingEmbedding{}, "", true},
		{"older embedding", one("2024-01-01"), "2024-02-01", true},
		{"newer embedding", one("2024-03-01"), "2024-02-01", false},
		{"equal timestamps", one("2024-02-01T10:00:00.000Z"), "2024-02-01T10:00:00.000Z", false},
		{"mixed precision equal", one("2024-02-01T10:00:00Z"), "2024-02-01T10:00:00.000Z", false},
		{"offset aware", one("2024-02-01T12:00:00+02:00"), "2024-02-01T10:30:00Z", true},
		{"date against datetime", one("2024-02-01"), "2024-02-01T00:00:01Z", true},
		{"missing stored timestamp", one(""), "2024-02-01", true},
		{"unparseable falls back to string order", one("b"), "a", false},
		{
			"one stale entry is enough",
			[]models.ExistingEmbedding{
				{ID: "a", UpdatedAt: "2024-03-01"},
				{ID: "b", UpdatedAt: "2024-01-01"},
			},
			"2024-02-01",
			true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NeedsUpdate(tc.existing, tc.source))
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 2, 1, 12, 30, 5, 123456789, time.FixedZone("CET", 3600))
	assert.Equal(t, "2024-02-01T11:30:05.123Z", FormatTimestamp(ts))
}
