package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the TOML overlay. Only keys present in the file override
// the environment.
type fileConfig struct {
	Buckets  *Buckets `toml:"buckets"`
	Pipeline struct {
		ChunkSize       *int     `toml:"chunk_size"`
		ChunkOverlap    *int     `toml:"chunk_overlap"`
		UpsertBatchSize *int     `toml:"upsert_batch_size"`
		EmbedBatchSize  *int     `toml:"embed_batch_size"`
		EmbedRPS        *float64 `toml:"embed_rps"`
	} `toml:"pipeline"`
	Tasks struct {
		Workers     *int    `toml:"workers"`
		QueueSize   *int    `toml:"queue_size"`
		MaxAttempts *int    `toml:"max_attempts"`
		MaxDuration *string `toml:"max_duration"`
		LeaseTTL    *string `toml:"lease_ttl"`
	} `toml:"tasks"`
}

func applyFile(cfg *Config, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return fc.apply(cfg)
}

func (fc *fileConfig) apply(cfg *Config) error {
	if b := fc.Buckets; b != nil {
		overlay(&cfg.Buckets.KnowledgeBase, b.KnowledgeBase)
		overlay(&cfg.Buckets.Questionnaire, b.Questionnaire)
		overlay(&cfg.Buckets.Attachments, b.Attachments)
		overlay(&cfg.Buckets.OrgAssets, b.OrgAssets)
	}

	p := fc.Pipeline
	setInt(&cfg.ChunkSize, p.ChunkSize)
	setInt(&cfg.ChunkOverlap, p.ChunkOverlap)
	setInt(&cfg.UpsertBatchSize, p.UpsertBatchSize)
	setInt(&cfg.EmbedBatch, p.EmbedBatchSize)
	if p.EmbedRPS != nil {
		cfg.EmbedRPS = *p.EmbedRPS
	}

	t := fc.Tasks
	setInt(&cfg.TaskWorkers, t.Workers)
	setInt(&cfg.TaskQueueSize, t.QueueSize)
	setInt(&cfg.TaskMaxAttempts, t.MaxAttempts)
	if t.MaxDuration != nil {
		d, err := time.ParseDuration(*t.MaxDuration)
		if err != nil {
			return fmt.Errorf("tasks.max_duration: %w", err)
		}
		cfg.TaskMaxDuration = d
	}
	if t.LeaseTTL != nil {
		d, err := time.ParseDuration(*t.LeaseTTL)
		if err != nil {
			return fmt.Errorf("tasks.lease_ttl: %w", err)
		}
		cfg.LeaseTTL = d
	}
	return nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
