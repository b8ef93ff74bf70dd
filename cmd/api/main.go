package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quillbox/quillbox/config"
	"github.com/quillbox/quillbox/pkg/ai/clipdrop"
	"github.com/quillbox/quillbox/pkg/ai/llm"
	"github.com/quillbox/quillbox/pkg/api/handlers"
	custommw "github.com/quillbox/quillbox/pkg/api/middleware"
	"github.com/quillbox/quillbox/pkg/cache"
	"github.com/quillbox/quillbox/pkg/creations"
	"github.com/quillbox/quillbox/pkg/database"
	"github.com/quillbox/quillbox/pkg/jobs"
	"github.com/quillbox/quillbox/pkg/media"
	"github.com/quillbox/quillbox/pkg/metrics"
	custommiddleware "github.com/quillbox/quillbox/pkg/middleware"
	"github.com/quillbox/quillbox/pkg/usage"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log.Printf("🔧 Configuration loaded (environment: %s)", cfg.APIEnvironment)

	// Initialize Sentry for error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 1.0,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Printf("⚠️  Failed to initialize Sentry: %v", err)
		} else {
			log.Printf("✅ Sentry initialized (environment: %s)", cfg.SentryEnvironment)
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Printf("ℹ️  Sentry disabled (no DSN configured)")
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Initialize database
	db, err := database.NewClient(startupCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize Redis cache
	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// Initialize Prometheus metrics
	prometheusMetrics := metrics.New()
	log.Printf("✅ Prometheus metrics initialized")

	// Initialize outbound providers
	llmClient := llm.NewClient(llm.Config{
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: float32(cfg.LLMTemperature),
	}, nil)

	clipdropClient := clipdrop.NewClient(clipdrop.Config{
		APIKey:  cfg.ClipDropAPIKey,
		BaseURL: cfg.ClipDropBaseURL,
	})

	mediaStore, err := media.NewStore(startupCtx, media.Config{
		AWSAccessKeyID:     cfg.AWSAccessKeyID,
		AWSSecretAccessKey: cfg.AWSSecretAccessKey,
		AWSRegion:          cfg.AWSRegion,
		Bucket:             cfg.MediaBucket,
		CDNBaseURL:         cfg.MediaCDNBaseURL,
	})
	if err != nil {
		log.Fatalf("❌ Failed to initialize media store: %v", err)
	}

	// Initialize services
	usageService := usage.NewService(db.Pool)
	creationsService := creations.NewService(db.Pool, redisClient)

	// Initialize handlers
	aiHandler := handlers.NewAIHandler(llmClient, clipdropClient, mediaStore, creationsService, usageService, prometheusMetrics, cfg.ScratchDir)
	userHandler := handlers.NewUserHandler(creationsService)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Initialize rate limiters
	globalRateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	tierRateLimiter := custommiddleware.NewTierRateLimiter() // Plan-based limits for authenticated users

	// Global middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[%s] %s - Status: %d", c.Request().Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	// Sentry error tracking middleware (if configured)
	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic: true, // Repanic after capturing to let the Recover middleware handle it
		}))
	}

	// Prometheus metrics middleware
	e.Use(prometheusMetrics.Middleware())

	// CORS with restricted origins
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSAllowedOrigins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
		},
		AllowCredentials: true,
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
		},
	}))

	e.Use(middleware.Gzip())
	e.Use(middleware.Secure())

	// Uploads are multipart; cap the whole body well above the resume limit
	e.Use(middleware.BodyLimit(cfg.MaxBodySize))

	// Global rate limiting (default 60 req/min per IP)
	e.Use(globalRateLimiter.RateLimitMiddleware())

	// Public endpoints
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"name":        "QuillBox API",
			"version":     "0.1.0",
			"status":      "running",
			"environment": cfg.APIEnvironment,
			"timestamp":   time.Now().Unix(),
		})
	})

	e.GET("/health", func(c echo.Context) error {
		if err := db.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status":   "unhealthy",
				"database": "down",
			})
		}

		if _, err := redisClient.Redis.Ping(c.Request().Context()).Result(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"cache":  "down",
			})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"status":   "healthy",
			"database": "up",
			"cache":    "up",
		})
	})

	// Prometheus metrics endpoint (public)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Authenticated API routes
	api := e.Group("/api")
	api.Use(custommw.SessionMiddleware(cfg.SessionSecret, usageService))
	api.Use(tierRateLimiter.Middleware())

	aiGroup := api.Group("/ai")
	{
		aiGroup.POST("/generate-article", aiHandler.GenerateArticle)
		aiGroup.POST("/generate-blog-title", aiHandler.GenerateBlogTitle)
		aiGroup.POST("/generate-image", aiHandler.GenerateImage)
		aiGroup.POST("/remove-image-background", aiHandler.RemoveImageBackground)
		aiGroup.POST("/remove-image-object", aiHandler.RemoveImageObject)
		aiGroup.POST("/resume-review", aiHandler.ResumeReview)
	}

	userGroup := api.Group("/user")
	{
		userGroup.GET("/creations", userHandler.GetCreations)
		userGroup.GET("/published-creations", userHandler.GetPublishedCreations)
		userGroup.POST("/toggle-like-creation", userHandler.ToggleLikeCreation)
		userGroup.GET("/usage", userHandler.GetUsage)
	}

	// Start cron jobs (scratch directory sweeper)
	cronManager := jobs.NewCronManager(cfg.ScratchDir, nil)
	if err := cronManager.SetupJobs(); err != nil {
		log.Fatalf("❌ Failed to set up cron jobs: %v", err)
	}
	cronManager.Start()
	log.Printf("⏰ Cron jobs: hourly scratch-dir sweep (%s)", cfg.ScratchDir)

	// Start server
	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	log.Printf("🚀 QuillBox API starting on %s", address)
	log.Printf("🤖 LLM model: %s", cfg.LLMModel)
	log.Printf("🛡️  Rate limiting: %d req/min (burst: %d)", cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)

	// Graceful shutdown
	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	// Stop cron jobs
	cronManager.Stop()
	log.Println("✅ Cron jobs stopped")

	// Gracefully shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server gracefully stopped")
}
