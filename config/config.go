// Package config loads configuration from environment variables and .env files.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Storage   StorageConfig
	SMTP      SMTPConfig
	RateLimit RateLimitConfig
	Search    SearchConfig
	Ingest    IngestConfig
	Tasks     TasksConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host                  string   `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port                  int      `env:"SERVER_PORT" envDefault:"8000"`
	ReadTimeout           int      `env:"SERVER_READ_TIMEOUT" envDefault:"30"`
	WriteTimeout          int      `env:"SERVER_WRITE_TIMEOUT" envDefault:"60"`
	IdleTimeout           int      `env:"SERVER_IDLE_TIMEOUT" envDefault:"60"`
	RequestTimeoutSeconds int      `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
	AllowedOrigins        []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000"`
	Environment           string   `env:"ENVIRONMENT" envDefault:"development"`
}

type DatabaseConfig struct {
	URL          string `env:"DATABASE_URL"`
	PoolSize     int    `env:"DATABASE_POOL_SIZE" envDefault:"50"`
	PoolOverflow int    `env:"DATABASE_POOL_OVERFLOW" envDefault:"30"`
	PoolTimeout  int    `env:"DATABASE_POOL_TIMEOUT" envDefault:"10"`
}

type RedisConfig struct {
	URL      string `env:"REDIS_URL"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

type AuthConfig struct {
	SecretKey                string `env:"SECRET_KEY"`
	AccessTokenExpireMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"30"`
	RefreshTokenExpireDays   int    `env:"REFRESH_TOKEN_EXPIRE_DAYS" envDefault:"7"`
	OTPExpireMinutes         int    `env:"OTP_EXPIRE_MINUTES" envDefault:"10"`
	CookieSecure             bool   `env:"COOKIE_SECURE" envDefault:"true"`
}

type LLMConfig struct {
	BaseURL             string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	APIKey              string `env:"OPENAI_API_KEY"`
	Model               string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	TimeoutSeconds      int    `env:"LLM_TIMEOUT_SECONDS" envDefault:"60"`
	MaxRetries          int    `env:"LLM_MAX_RETRIES" envDefault:"3"`
	ChatCacheTTLSeconds int    `env:"CACHE_TTL_CHAT_SECONDS" envDefault:"600"`
}

type EmbeddingConfig struct {
	Endpoint             string `env:"EMBEDDING_ENDPOINT" envDefault:"https://api.openai.com/v1/embeddings"`
	Model                string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	APIKey               string `env:"EMBEDDING_MODEL_KEY"`
	Dimension            int    `env:"EMBEDDING_DIMENSION" envDefault:"1536"`
	BatchSize            int    `env:"EMBEDDING_BATCH_SIZE" envDefault:"20"`
	MaxConcurrentBatches int    `env:"EMBEDDING_MAX_CONCURRENT_BATCHES" envDefault:"3"`
	CacheTTLSeconds      int    `env:"CACHE_TTL_EMBEDDING_SECONDS" envDefault:"86400"`
}

type StorageConfig struct {
	Endpoint  string `env:"S3_ENDPOINT"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Bucket    string `env:"S3_BUCKET"`
	PublicURL string `env:"S3_PUBLIC_URL"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
}

type SMTPConfig struct {
	Host      string `env:"SMTP_HOST"`
	Port      int    `env:"SMTP_PORT" envDefault:"587"`
	Username  string `env:"SMTP_USERNAME"`
	Password  string `env:"SMTP_PASSWORD"`
	EmailFrom string `env:"EMAIL_FROM" envDefault:"noreply@mindspring.app"`
}

type RateLimitConfig struct {
	Default        string `env:"RATE_LIMIT_DEFAULT" envDefault:"100/hour"`
	DocumentUpload string `env:"RATE_LIMIT_DOCUMENT_UPLOAD" envDefault:"10/day"`
}

type SearchConfig struct {
	VectorSearchThreshold float64 `env:"VECTOR_SEARCH_THRESHOLD" envDefault:"0.7"`
	MaxSimilarityResults  int     `env:"MAX_SIMILARITY_RESULTS" envDefault:"10"`
}

type IngestConfig struct {
	ChunkSize    int `env:"CHUNK_SIZE" envDefault:"512"`
	ChunkOverlap int `env:"CHUNK_OVERLAP" envDefault:"100"`
}

type TasksConfig struct {
	TaskTimeoutSeconds       int `env:"TASK_TIMEOUT_SECONDS" envDefault:"300"`
	ProcessingTimeoutSeconds int `env:"DOCUMENT_PROCESSING_TIMEOUT_SECONDS" envDefault:"1800"`
	HistoryRetentionDays     int `env:"GENERATION_HISTORY_RETENTION_DAYS" envDefault:"90"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads a local .env if present, parses the environment and validates
// the result. Optional providers (storage, SMTP, LLM, Redis) are allowed to
// be absent; the composition layer falls back to mocks for those.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (DATABASE_URL)")
	}
	if c.Auth.SecretKey == "" {
		return fmt.Errorf("token signing secret is required (SECRET_KEY)")
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		// Overlap >= size would still make forward progress in the chunker,
		// but it is almost always a misconfiguration.
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	}
	return nil
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// HasStorage reports whether every credential needed for the S3 provider is set.
func (c *Config) HasStorage() bool {
	s := c.Storage
	return s.Endpoint != "" && s.AccessKey != "" && s.SecretKey != "" && s.Bucket != ""
}

// HasRedis reports whether a Redis URL is configured.
func (c *Config) HasRedis() bool {
	return c.Redis.URL != ""
}

// HasSMTP reports whether outbound email is fully configured.
func (c *Config) HasSMTP() bool {
	s := c.SMTP
	return s.Host != "" && s.Port != 0 && s.Username != "" && s.Password != ""
}

// HasLLM reports whether the real LLM provider can be used.
func (c *Config) HasLLM() bool {
	return c.LLM.APIKey != ""
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}
