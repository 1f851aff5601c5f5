package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbsync/internal/config"
	"github.com/markdave123-py/kbsync/internal/core"
	db "github.com/markdave123-py/kbsync/internal/core/database"
	"github.com/markdave123-py/kbsync/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbsync/internal/core/lease"
	"github.com/markdave123-py/kbsync/internal/core/llm"
	"github.com/markdave123-py/kbsync/internal/core/mq"
	"github.com/markdave123-py/kbsync/internal/core/mq/kafka"
	objectclient "github.com/markdave123-py/kbsync/internal/core/object-client"
	"github.com/markdave123-py/kbsync/internal/core/tasks"
	"github.com/markdave123-py/kbsync/internal/core/vectorindex/pgvector"
	"github.com/markdave123-py/kbsync/internal/core/vectorindex/qdrant"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

// App owns every long-lived client. Nothing here is a package-level
// singleton; tests build their own pieces.
type App struct {
	Config     *config.Config
	DB         *sql.DB
	Store      *db.SourceStore
	Index      core.VectorIndex
	Extractor  *ingestion_engine.Extractor
	Syncer     *ingestion_engine.Syncer
	Runner     *tasks.Runner
	Dispatcher tasks.Dispatcher
	Server     *Server

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	conn, err := db.Open(appCtx, cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)

	a.Store, err = db.NewSourceStore(appCtx, conn)
	if err != nil {
		return nil, err
	}
	zlog.Info("database initialized and ready")

	objClient, err := objectclient.NewS3Client(appCtx, objectclient.Options{
		AccessKey: cfg.AwsAccessKey,
		SecretKey: cfg.AwsSecretKey,
		Region:    cfg.AwsRegion,
		Endpoint:  cfg.S3Endpoint,
	})
	if err != nil {
		return nil, err
	}
	zlog.Info("object client initialized and ready")

	embedder, err := a.newEmbedder(appCtx)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}

	a.Index, err = a.newVectorIndex(appCtx, embedder)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Index.Close)

	var describer core.ImageDescriber
	if cfg.AIAPIKey != "" {
		vision, err := llm.NewGeminiVision(appCtx, cfg.AIAPIKey, cfg.VisionModel)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the vision model, %w", err)
		}
		a.closers = append(a.closers, vision.Close)
		describer = vision
	} else {
		zlog.Warn("GEMINI_API_KEY not set, image sources will be reported as unsupported")
	}
	a.Extractor = ingestion_engine.NewExtractor(describer)

	locker, err := a.newLocker(appCtx)
	if err != nil {
		return nil, err
	}

	a.Syncer, err = ingestion_engine.NewSyncer(ingestion_engine.SyncerDeps{
		Store:     a.Store,
		Objects:   objClient,
		Extractor: a.Extractor,
		Index:     a.Index,
		Locker:    locker,
	}, ingestion_engine.SyncerConfig{
		ChunkSize:       cfg.ChunkSize,
		ChunkOverlap:    cfg.ChunkOverlap,
		UpsertBatchSize: cfg.UpsertBatchSize,
		LeaseTTL:        cfg.LeaseTTL,
		Buckets:         cfg.Buckets,
	})
	if err != nil {
		return nil, err
	}

	a.Runner, err = tasks.NewRunner(a.Syncer, tasks.Options{
		Workers:     cfg.TaskWorkers,
		QueueSize:   cfg.TaskQueueSize,
		MaxAttempts: cfg.TaskMaxAttempts,
		MaxDuration: cfg.TaskMaxDuration,
	})
	if err != nil {
		return nil, err
	}

	a.Dispatcher = a.Runner
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := kafka.NewPublisher(kafka.PublisherConfig{Brokers: cfg.KafkaBrokers, ClientID: "kbsync-api"})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		if a.Dispatcher, err = tasks.NewPublisher(pub, cfg.KafkaSyncTopic); err != nil {
			return nil, err
		}
		zlog.Info("sync requests go through kafka", zap.String("topic", cfg.KafkaSyncTopic))
	}

	if a.Server, err = NewServer(cfg, a.Dispatcher, a.Syncer, a.Extractor); err != nil {
		return nil, fmt.Errorf("http server: %w", err)
	}

	ok = true
	return a, nil
}

// NewConsumer joins the sync-request consumer group. It returns nil when
// Kafka is not configured.
func (a *App) NewConsumer() (mq.Consumer, error) {
	if len(a.Config.KafkaBrokers) == 0 {
		return nil, nil
	}
	c, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  a.Config.KafkaBrokers,
		GroupID:  a.Config.KafkaGroupID,
		Topics:   []string{a.Config.KafkaSyncTopic},
		ClientID: "kbsync-worker",
	})
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	a.closers = append(a.closers, c.Close)
	return c, nil
}

func (a *App) newEmbedder(ctx context.Context) (core.EmbeddingProvider, error) {
	cfg := a.Config
	var (
		next core.EmbeddingProvider
		name = strings.ToLower(cfg.EmbedProvider)
	)
	switch name {
	case "gemini", "":
		name = "gemini"
		g, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		next = g
	case "openai":
		o, err := llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbedModel, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		next = o
	default:
		return nil, fmt.Errorf("unknown EMBED_PROVIDER %q", cfg.EmbedProvider)
	}
	return llm.NewLimitedEmbedder(next, name, cfg.EmbedRPS, cfg.EmbedBatch)
}

func (a *App) newVectorIndex(ctx context.Context, embedder core.EmbeddingProvider) (core.VectorIndex, error) {
	cfg := a.Config
	switch strings.ToLower(cfg.VectorBackend) {
	case "pgvector", "":
		return pgvector.New(ctx, a.DB, embedder, pgvector.Options{Table: cfg.VectorTable, Dimension: cfg.EmbedDim})
	case "qdrant":
		return qdrant.New(ctx, embedder, qdrant.Options{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantAPIKey != "",
			Collection: cfg.QdrantCollection,
			Dimension:  cfg.EmbedDim,
		})
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.VectorBackend)
	}
}

func (a *App) newLocker(ctx context.Context) (lease.Locker, error) {
	if a.Config.RedisAddr == "" {
		zlog.Info("REDIS_ADDR not set, using in-process source leases")
		return lease.NewLocalLocker(), nil
	}
	client, err := lease.NewRedisClient(ctx, a.Config.RedisAddr, a.Config.RedisPassword)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return lease.NewRedisLocker(client)
}

// Close releases clients in reverse construction order.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		zlog.Warn("closing clients", zap.Error(err))
	}
}
