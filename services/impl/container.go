package impl

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mindspring-backend/auth"
	"github.com/mindspring-backend/config"
	"github.com/mindspring-backend/services"
)

// Container is the process composition: infrastructure selected by
// configuration presence, repositories over the shared connection pool, and
// the domain services handlers consume. Built once at startup and safe for
// concurrent use; per-request and per-task scoping happens through ctx.
type Container struct {
	Cfg *config.Config
	DB  *gorm.DB

	Redis      *redis.Client
	Cache      services.CacheProvider
	Storage    services.StorageProvider
	Email      services.EmailProvider
	LLM        services.LLMClient
	Dispatcher services.TaskDispatcher
	Tokens     *auth.TokenManager

	Users         services.UserRepository
	OTPs          services.OTPRepository
	RefreshTokens services.RefreshTokenRepository
	Sources       services.SourceRepository
	Chunks        services.ChunkRepository
	Conversations services.ConversationRepository
	Messages      services.MessageRepository
	Quizzes       services.QuizRepository
	StudyGuides   services.StudyGuideRepository

	Auth       services.AuthService
	Notebooks  services.NotebookService
	SourceSvc  services.SourceService
	Chat       services.ChatService
	Generation services.GenerationService
	History    services.HistoryService
	Ingest     services.RAGIngestService
	Processing services.SourceProcessingService
}

// NewContainer selects real providers when their configuration is present
// and falls back to in-process stand-ins otherwise, so a bare development
// environment still boots end to end.
func NewContainer(ctx context.Context, cfg *config.Config, db *gorm.DB) (*Container, error) {
	c := &Container{Cfg: cfg, DB: db}

	if cfg.HasRedis() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if cfg.Redis.PoolSize > 0 {
			opts.PoolSize = cfg.Redis.PoolSize
		}
		c.Redis = redis.NewClient(opts)
		c.Cache = NewRedisCacheProvider(c.Redis)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := c.Redis.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable at startup, cache degrades to misses")
		}
		cancel()
	} else {
		log.Warn().Msg("REDIS_URL not set, using in-memory cache")
		c.Cache = NewMemoryCacheProvider()
	}

	if cfg.HasStorage() {
		storage, err := NewS3StorageProvider(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		c.Storage = storage
	} else {
		log.Warn().Msg("object storage not configured, using in-memory store")
		c.Storage = NewMemoryStorageProvider()
	}

	if cfg.HasSMTP() {
		c.Email = NewSMTPEmailProvider(cfg.SMTP)
	} else {
		log.Warn().Msg("SMTP not configured, emails will be logged only")
		c.Email = NewLogEmailProvider()
	}

	if cfg.HasLLM() {
		c.LLM = NewLLMClient(cfg, c.Cache)
	} else {
		log.Warn().Msg("no LLM API key, using deterministic mock client")
		c.LLM = NewMockLLMClient(cfg.Embedding.Dimension)
	}

	c.Dispatcher = NewTaskDispatcher(time.Duration(cfg.Tasks.TaskTimeoutSeconds) * time.Second)
	c.Tokens = auth.NewTokenManager(
		cfg.Auth.SecretKey,
		time.Duration(cfg.Auth.AccessTokenExpireMinutes)*time.Minute,
		time.Duration(cfg.Auth.RefreshTokenExpireDays)*24*time.Hour,
	)

	// Repositories share the pool-backed handle. gorm clones a session per
	// call chain, so concurrent requests and background tasks never share
	// statement state.
	c.Users = NewUserRepository(db)
	c.OTPs = NewOTPRepository(db)
	c.RefreshTokens = NewRefreshTokenRepository(db)
	c.Sources = NewSourceRepository(db)
	c.Chunks = NewChunkRepository(db, c.LLM, cfg.Search.VectorSearchThreshold)
	c.Conversations = NewConversationRepository(db)
	c.Messages = NewMessageRepository(db)
	c.Quizzes = NewQuizRepository(db)
	c.StudyGuides = NewStudyGuideRepository(db)

	c.Notebooks = NewNotebookService(db)
	c.History = NewHistoryService(db)
	c.Ingest = NewRAGIngestService(c.Chunks, c.LLM, cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	c.Processing = NewSourceProcessingService(c.Sources, c.Storage, c.Ingest)
	c.Auth = NewAuthService(c.Users, c.OTPs, c.RefreshTokens, c.Tokens, c.Email,
		time.Duration(cfg.Auth.OTPExpireMinutes)*time.Minute)
	c.SourceSvc = NewSourceService(c.Sources, c.Chunks, c.Notebooks, c.Storage,
		c.Processing, c.Ingest, c.Dispatcher,
		time.Duration(cfg.Tasks.ProcessingTimeoutSeconds)*time.Second)
	c.Chat = NewChatService(c.Conversations, c.Messages, c.Notebooks, c.Chunks, c.LLM)
	c.Generation = NewGenerationService(c.Sources, c.Chunks, c.Notebooks, c.Quizzes,
		c.StudyGuides, c.History, c.LLM, cfg.LLM.Model)

	return c, nil
}

// Close drains background tasks and releases infrastructure clients.
func (c *Container) Close(grace time.Duration) {
	if c.Dispatcher != nil {
		c.Dispatcher.Shutdown(grace)
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close failed")
		}
	}
}
