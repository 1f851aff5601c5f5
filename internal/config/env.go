package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	Port     string
	LogLevel string
	LogFile  string

	DatabaseURL string
	SslCertPath string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	S3Endpoint   string
	Buckets      Buckets

	EmbedProvider string
	AIAPIKey      string
	OpenAIAPIKey  string
	EmbedModel    string
	EmbedDim      int
	EmbedBatch    int
	EmbedRPS      float64
	VisionModel   string

	VectorBackend    string
	VectorTable      string
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantCollection string

	ChunkSize       int
	ChunkOverlap    int
	UpsertBatchSize int

	TaskWorkers     int
	TaskQueueSize   int
	TaskMaxAttempts int
	TaskMaxDuration time.Duration
	LeaseTTL        time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers   []string
	KafkaSyncTopic string
	KafkaGroupID   string

	JWTSecret string

	// Warnings lists settings that could not be parsed and fell back to
	// their defaults. Callers log them once the logger is up.
	Warnings []string
}

// Buckets maps each bucket kind to its configured bucket name.
type Buckets struct {
	KnowledgeBase string `toml:"knowledge_base"`
	Questionnaire string `toml:"questionnaire"`
	Attachments   string `toml:"attachments"`
	OrgAssets     string `toml:"org_assets"`
}

// LoadConfig loads the environment variables, applies the optional TOML
// overlay named by KBSYNC_CONFIG and returns the config.
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	var env envReader
	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		Buckets: Buckets{
			KnowledgeBase: getEnv("BUCKET_KNOWLEDGE_BASE", "kbsync-knowledge-base"),
			Questionnaire: getEnv("BUCKET_QUESTIONNAIRE", "kbsync-questionnaires"),
			Attachments:   getEnv("BUCKET_ATTACHMENTS", "kbsync-attachments"),
			OrgAssets:     getEnv("BUCKET_ORG_ASSETS", "kbsync-org-assets"),
		},

		EmbedProvider: getEnv("EMBED_PROVIDER", "gemini"),
		AIAPIKey:      getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		EmbedModel:    getEnv("EMBED_MODEL", ""),
		EmbedDim:      env.getInt("EMBED_DIM", 768),
		EmbedBatch:    env.getInt("EMBED_BATCH_SIZE", 16),
		EmbedRPS:      env.getFloat("EMBED_RPS", 5),
		VisionModel:   getEnv("VISION_MODEL", "gemini-1.5-flash"),

		VectorBackend:    getEnv("VECTOR_BACKEND", "pgvector"),
		VectorTable:      getEnv("VECTOR_TABLE", "embedding_chunks"),
		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       env.getInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "kbsync_embeddings"),

		ChunkSize:       env.getInt("CHUNK_SIZE", 500),
		ChunkOverlap:    env.getInt("CHUNK_OVERLAP", 50),
		UpsertBatchSize: env.getInt("UPSERT_BATCH_SIZE", 100),

		TaskWorkers:     env.getInt("TASK_WORKERS", 4),
		TaskQueueSize:   env.getInt("TASK_QUEUE_SIZE", 64),
		TaskMaxAttempts: env.getInt("TASK_MAX_ATTEMPTS", 3),
		TaskMaxDuration: env.getDuration("TASK_MAX_DURATION", 30*time.Minute),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		KafkaBrokers:   splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaSyncTopic: getEnv("KAFKA_SYNC_TOPIC", "kbsync.sync-requests"),
		KafkaGroupID:   getEnv("KAFKA_GROUP_ID", "kbsync-workers"),

		JWTSecret: getEnv("JWT_SECRET", ""),
	}
	cfg.LeaseTTL = env.getDuration("LEASE_TTL", cfg.TaskMaxDuration)
	cfg.Warnings = env.warnings

	if path := getEnv("KBSYNC_CONFIG", ""); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate reports settings every process needs regardless of which
// clients it builds.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("invalid chunking settings: size=%d overlap=%d", c.ChunkSize, c.ChunkOverlap)
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.TaskWorkers <= 0 {
		missing = append(missing, "TASK_WORKERS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsProduction selects JSON logs and other production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// envReader parses typed settings and records the ones it had to ignore.
type envReader struct {
	warnings []string
}

func (e *envReader) warn(key, value, kind string, def any) {
	e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not %s, using default %v", key, value, kind, def))
}

func (e *envReader) getInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.warn(key, v, "an int", def)
		return def
	}
	return n
}

func (e *envReader) getFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.warn(key, v, "a number", def)
		return def
	}
	return f
}

func (e *envReader) getDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.warn(key, v, "a duration", def)
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
