package api

import (
	"context"
	"fmt"
	"time"

	_ "github.com/brightlane/portal/docs"
	"github.com/brightlane/portal/internal/app/billing"
	"github.com/brightlane/portal/internal/app/clerk"
	"github.com/brightlane/portal/internal/app/cms"
	"github.com/brightlane/portal/internal/app/config"
	"github.com/brightlane/portal/internal/app/dsn"
	"github.com/brightlane/portal/internal/app/handler"
	"github.com/brightlane/portal/internal/app/middleware"
	"github.com/brightlane/portal/internal/app/redis"
	"github.com/brightlane/portal/internal/app/repository"
	"github.com/brightlane/portal/internal/app/storage"
	"github.com/brightlane/portal/internal/pkg"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// StartServer собирает зависимости и запускает HTTP сервер.
// Redis, MinIO, Stripe и Sanity необязательны: без них соответствующие
// эндпоинты отвечают 503.
func StartServer() error {
	logrus.Info("Starting server")

	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	dsnStr := dsn.FromEnv()
	if dsnStr == "" {
		return fmt.Errorf("DSN string is empty, check DB_* variables")
	}
	repo, err := repository.New(dsnStr, cfg.DB)
	if err != nil {
		return fmt.Errorf("ошибка инициализации репозитория: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Redis: отозванные сессии и кеш блога
	var (
		sessions    middleware.SessionStore
		revoker     handler.SessionRevoker
		clerkRevoke clerk.SessionRevoker
		cache       cms.Cache
		closers     []func() error
	)
	if cfg.Redis.Host != "" {
		redisClient, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			logrus.Warnf("redis disabled: %v", err)
		} else {
			sessions, revoker, clerkRevoke, cache = redisClient, redisClient, redisClient, redisClient
			closers = append(closers, redisClient.Close)
		}
	}

	// MinIO: вложения тикетов
	var store storage.Storage
	if cfg.MinIO.Endpoint != "" && cfg.MinIO.AccessKey != "" {
		minioClient, err := storage.NewMinIOClient(ctx, cfg.MinIO)
		if err != nil {
			logrus.Warnf("minio disabled: %v", err)
		} else {
			store = minioClient
		}
	}

	// Stripe
	var gateway billing.Gateway
	if cfg.Stripe.SecretKey != "" {
		gateway = billing.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
	} else {
		logrus.Warn("stripe is not configured, checkout is disabled")
	}
	billingService := billing.NewService(repo, gateway, billing.Options{
		Currency: cfg.Stripe.Currency,
		BaseURL:  cfg.Site.BaseURL,
	})

	// Clerk: токены обязательны, вебхуки по желанию
	verifier, err := clerk.NewVerifier(cfg.Clerk.JWTKey, cfg.Clerk.AuthorizedParties, cfg.Clerk.Leeway)
	if err != nil {
		return fmt.Errorf("clerk verifier: %w", err)
	}
	var clerkWebhooks handler.ClerkWebhooks
	if cfg.Clerk.WebhookSecret != "" {
		syncer, err := clerk.NewSyncer(cfg.Clerk.WebhookSecret, repo, clerkRevoke)
		if err != nil {
			return fmt.Errorf("clerk webhooks: %w", err)
		}
		clerkWebhooks = syncer
	}

	// Sanity
	var blog handler.BlogSource
	if cmsClient, err := cms.NewClient(cfg.Sanity, cache); err != nil {
		logrus.Warnf("blog disabled: %v", err)
	} else {
		blog = cmsClient
	}

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authMiddleware := middleware.NewAuthMiddleware(verifier, sessions, repo)
	apiHandler := handler.NewAPIHandler(repo, billingService, store, blog, clerkWebhooks)
	apiHandler.MaxUpload = cfg.MinIO.MaxUploadB
	authHandler := handler.NewAuthHandler(repo, revoker)
	siteHandler := handler.NewHandler(repo, blog, cfg.Site)

	apiHandler.RegisterAPIRoutes(router, authMiddleware, authHandler)

	app := pkg.NewApp(cfg, router, siteHandler)
	app.OnShutdown(closers...)
	app.RunApp()

	logrus.Info("Server down")
	return nil
}
