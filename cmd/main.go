package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mindspring-backend/config"
	"github.com/mindspring-backend/handlers"
	"github.com/mindspring-backend/middleware"
	"github.com/mindspring-backend/models"
	"github.com/mindspring-backend/services/impl"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogging(cfg)

	db, err := initDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	container, err := impl.NewContainer(context.Background(), cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build service container")
	}

	router := setupRouter(cfg, container)

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.GetServerAddress()).
			Str("environment", cfg.Server.Environment).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Drain background ingestion before dropping infrastructure clients.
	container.Close(30 * time.Second)
	log.Info().Msg("server exited")
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Logging.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.Database.PoolSize + cfg.Database.PoolOverflow)
	sqlDB.SetMaxIdleConns(cfg.Database.PoolSize)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func migrate(db *gorm.DB) error {
	// Chunk embeddings need the pgvector extension before the table exists.
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	return db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.OTPCode{},
		&models.Notebook{},
		&models.Source{},
		&models.Chunk{},
		&models.Conversation{},
		&models.Message{},
		&models.Quiz{},
		&models.StudyGuide{},
		&models.GenerationHistory{},
	)
}

func setupRouter(cfg *config.Config, c *impl.Container) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.Metrics())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Probes and metrics sit outside the timeout and rate limit envelopes so
	// orchestrators can always reach them.
	healthHandlers := handlers.NewHealthHandlers(c.DB, c.Cache, cfg.HasLLM())
	router.GET("/health", healthHandlers.Health)
	router.GET("/readiness", healthHandlers.Readiness)
	router.GET("/live", healthHandlers.Live)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandlers := handlers.NewAuthHandlers(c.Auth, cfg.Auth.CookieSecure)
	notebookHandlers := handlers.NewNotebookHandlers(c.Notebooks)
	sourceHandlers := handlers.NewSourceHandlers(c.SourceSvc, c.Chat)
	chatHandlers := handlers.NewChatHandlers(c.Chat)
	generationHandlers := handlers.NewGenerationHandlers(c.Generation, c.Quizzes)

	rateLimit := middleware.RateLimit(c.Redis,
		middleware.ParseLimit(cfg.RateLimit.Default),
		middleware.ParseLimit(cfg.RateLimit.DocumentUpload))

	api := router.Group("/api/v1")
	api.Use(middleware.Timeout(time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second))

	// Public auth endpoints are limited by client address.
	authGroup := api.Group("/auth")
	authGroup.Use(rateLimit)
	{
		authGroup.POST("/signup", authHandlers.Signup)
		authGroup.POST("/verify-otp", authHandlers.VerifyOTP)
		authGroup.POST("/resend-otp", authHandlers.ResendOTP)
		authGroup.POST("/login", authHandlers.Login)
		authGroup.POST("/refresh", authHandlers.Refresh)
		authGroup.POST("/forgot-password", authHandlers.ForgotPassword)
		authGroup.POST("/reset-password", authHandlers.ResetPassword)
	}

	// Auth runs before the rate limiter so quotas key on the user.
	protected := api.Group("")
	protected.Use(middleware.Auth(c.Tokens, c.Auth))
	protected.Use(rateLimit)
	{
		protected.POST("/auth/logout", authHandlers.Logout)
		protected.GET("/auth/me", authHandlers.Me)

		notebooks := protected.Group("/notebooks")
		{
			notebooks.POST("", notebookHandlers.Create)
			notebooks.GET("", notebookHandlers.List)
			notebooks.GET("/:notebook_id", notebookHandlers.Get)
			notebooks.PUT("/:notebook_id", notebookHandlers.Update)
			notebooks.DELETE("/:notebook_id", notebookHandlers.Delete)
			notebooks.POST("/:notebook_id/restore", notebookHandlers.Restore)

			notebooks.POST("/:notebook_id/sources", sourceHandlers.Upload)
			notebooks.GET("/:notebook_id/sources", sourceHandlers.List)

			notebooks.POST("/:notebook_id/generate/summary", generationHandlers.SummarizeNotebook)
			notebooks.POST("/:notebook_id/generate/quiz", generationHandlers.QuizFromNotebook)
			notebooks.POST("/:notebook_id/generate/guide", generationHandlers.StudyGuideFromNotebook)
			notebooks.POST("/:notebook_id/generate/mindmap", generationHandlers.MindmapFromNotebook)
		}

		sources := protected.Group("/sources")
		{
			sources.GET("/:source_id", sourceHandlers.Get)
			sources.DELETE("/:source_id", sourceHandlers.Delete)
			sources.POST("/:source_id/conversations", sourceHandlers.CreateConversation)

			sources.POST("/:source_id/generate/summary", generationHandlers.SummarizeSource)
			sources.POST("/:source_id/generate/quiz", generationHandlers.QuizFromSource)
			sources.POST("/:source_id/generate/guide", generationHandlers.StudyGuideFromSource)
			sources.POST("/:source_id/generate/mindmap", generationHandlers.MindmapFromSource)
		}

		chat := protected.Group("/chat")
		{
			chat.POST("/conversations", chatHandlers.CreateConversation)
			chat.GET("/conversations", chatHandlers.ListConversations)
			chat.GET("/conversations/:conversation_id", chatHandlers.GetConversation)
			chat.PUT("/conversations/:conversation_id", chatHandlers.UpdateConversation)
			chat.DELETE("/conversations/:conversation_id", chatHandlers.DeleteConversation)
			chat.POST("/conversations/:conversation_id/messages", chatHandlers.SendMessage)
			chat.GET("/conversations/:conversation_id/messages", chatHandlers.ListMessages)
		}

		quizzes := protected.Group("/quizzes")
		{
			quizzes.GET("", generationHandlers.ListQuizzes)
			quizzes.GET("/:quiz_id", generationHandlers.GetQuiz)
		}

		protected.POST("/mindmap/generate", generationHandlers.MindmapFromText)
	}

	return router
}
