package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nauuaf/image-service/internal/auth"
	"github.com/nauuaf/image-service/internal/config"
	"github.com/nauuaf/image-service/internal/database"
	"github.com/nauuaf/image-service/internal/handler"
	"github.com/nauuaf/image-service/internal/middleware"
	"github.com/nauuaf/image-service/internal/processing"
	"github.com/nauuaf/image-service/internal/repository"
	"github.com/nauuaf/image-service/internal/service"
)

type Server struct {
	httpServer *http.Server
	pool       *pgxpool.Pool
	cfg        *config.Config
	log        *zap.Logger
}

func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	pool, err := database.Connect(context.Background(), &cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(context.Background(), pool, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store, err := repository.NewS3ObjectStore(&cfg.S3, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}

	assetRepo := repository.NewAssetRepository(pool, log)
	processor := processing.NewProcessor(log, cfg.App.JPEGQuality)
	assetService := service.NewAssetService(assetRepo, store, processor, cfg, log)
	authClient := auth.NewClient(&cfg.Auth, log)

	h := handler.NewHandler(assetService, pool, store, cfg, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		middleware.Recovery(log),
		middleware.Logger(log),
		middleware.Metrics(),
	)

	router.GET("/", h.Root)
	router.GET("/health", h.HealthCheck)
	router.GET("/health/ready", h.ReadinessCheck)
	router.GET("/health/live", h.LivenessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/upload", middleware.RequireAuth(authClient, log), h.UploadImages)

	images := router.Group("/images")
	{
		images.GET("", middleware.OptionalAuth(authClient, log), h.ListImages)
		images.GET("/:id/view", h.ViewImage) // public, no auth

		authed := images.Group("", middleware.RequireAuth(authClient, log))
		{
			authed.GET("/:id", h.GetImage)
			authed.GET("/:id/info", h.ImageInfo)
			authed.DELETE("/:id", h.DeleteImage)
			authed.POST("/:id/process", h.ProcessImage)
		}
	}

	server := &Server{
		httpServer: &http.Server{
			Addr:           cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:        router,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1 MB
		},
		pool: pool,
		cfg:  cfg,
		log:  log,
	}

	log.Info("Server created successfully",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port))

	return server, nil
}

func (s *Server) Run() error {
	s.log.Info("Server is running", zap.String("address", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")
	defer s.pool.Close()
	return s.httpServer.Shutdown(ctx)
}
