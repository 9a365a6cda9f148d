package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nauuaf/image-service/internal/config"
	"github.com/nauuaf/image-service/internal/domain"
	"github.com/nauuaf/image-service/internal/middleware"
	"github.com/nauuaf/image-service/internal/repository"
	"github.com/nauuaf/image-service/internal/service"
)

// Pinger is the database liveness dependency for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	service service.AssetService
	db      Pinger
	store   repository.ObjectStore
	cfg     *config.Config
	log     *zap.Logger
}

func NewHandler(service service.AssetService, db Pinger, store repository.ObjectStore, cfg *config.Config, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		db:      db,
		store:   store,
		cfg:     cfg,
		log:     log,
	}
}

// UploadImages accepts up to MaxFilesPerUpload multipart files under the
// "images" field and uploads each as a separate asset.
func (h *Handler) UploadImages(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image files provided"})
		return
	}

	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image files provided"})
		return
	}
	if len(files) > h.cfg.App.MaxFilesPerUpload {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Maximum %d images allowed per upload", h.cfg.App.MaxFilesPerUpload),
		})
		return
	}

	generateThumbnail := c.DefaultPostForm("generate_thumbnail", "true") == "true"

	uploaded := make([]*domain.AssetView, 0, len(files))
	for _, file := range files {
		if file.Size > h.cfg.App.MaxUploadSize {
			observeOperation("upload", "error")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("File too large. Maximum size is %d bytes", h.cfg.App.MaxUploadSize),
			})
			return
		}

		src, err := file.Open()
		if err != nil {
			h.log.Error("Failed to open uploaded file", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
			return
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			h.log.Error("Failed to read uploaded file", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
			return
		}

		start := time.Now()
		view, err := h.service.Upload(c.Request.Context(), service.UploadInput{
			RawUserID:         middleware.UserID(c),
			Filename:          file.Filename,
			ContentType:       file.Header.Get("Content-Type"),
			Data:              data,
			GenerateThumbnail: generateThumbnail,
		})
		middleware.ImageProcessingDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())
		if err != nil {
			observeOperation("upload", "error")
			h.respondError(c, err, "Upload failed")
			return
		}

		observeOperation("upload", "success")
		uploaded = append(uploaded, view)
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Successfully uploaded %d image(s)", len(uploaded)),
		"images":  uploaded,
	})
}

func (h *Handler) ListImages(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.cfg.App.DefaultPageSize)))
	if limit > h.cfg.App.MaxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Maximum limit is %d", h.cfg.App.MaxPageSize),
		})
		return
	}

	result, err := h.service.List(c.Request.Context(), middleware.UserID(c), page, limit, c.Query("format"))
	if err != nil {
		h.respondError(c, err, "Failed to retrieve images")
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetImage(c *gin.Context) {
	view, err := h.service.Get(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.respondError(c, err, "Failed to retrieve image")
		return
	}

	c.JSON(http.StatusOK, view)
}

// ImageInfo returns the asset together with details probed from the stored
// bytes. The details block is null when the payload does not decode.
func (h *Handler) ImageInfo(c *gin.Context) {
	view, info, err := h.service.Inspect(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.respondError(c, err, "Failed to retrieve image info")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"image":   view,
		"details": info,
	})
}

// ViewImage is the public, unauthenticated read path: it streams the stored
// bytes by id alone.
func (h *Handler) ViewImage(c *gin.Context) {
	data, contentType, err := h.service.FetchBytes(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to view image")
		return
	}

	c.Data(http.StatusOK, contentType, data)
}

func (h *Handler) DeleteImage(c *gin.Context) {
	err := h.service.Delete(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		observeOperation("delete", "error")
		h.respondError(c, err, "Failed to delete image")
		return
	}

	observeOperation("delete", "success")
	c.JSON(http.StatusOK, gin.H{"message": "Image deleted successfully"})
}

type processRequest struct {
	Operations []string `json:"operations" binding:"required"`
	Format     string   `json:"format"`
	Quality    int      `json:"quality"`
}

func (h *Handler) ProcessImage(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	start := time.Now()
	view, err := h.service.Process(c.Request.Context(), service.ProcessInput{
		RawUserID:  middleware.UserID(c),
		AssetID:    c.Param("id"),
		Operations: req.Operations,
		Format:     req.Format,
		Quality:    req.Quality,
	})
	middleware.ImageProcessingDuration.WithLabelValues("process").Observe(time.Since(start).Seconds())
	if err != nil {
		observeOperation("process", "error")
		h.respondError(c, err, "Failed to process image")
		return
	}

	observeOperation("process", "success")
	c.JSON(http.StatusOK, gin.H{
		"message":         "Image processed successfully",
		"processed_image": view,
	})
}

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "image-service",
		"version": "1.0.0",
		"status":  "running",
		"endpoints": gin.H{
			"health":  "/health",
			"metrics": "/metrics",
			"upload":  "/upload",
			"images":  "/images",
		},
	})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "image-service",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ReadinessCheck verifies both storage tiers.
func (h *Handler) ReadinessCheck(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := h.db.Ping(c.Request.Context()); err != nil {
		checks["database"] = gin.H{"status": "unhealthy", "error": err.Error()}
		healthy = false
	} else {
		checks["database"] = gin.H{"status": "healthy"}
	}

	if h.store.BucketExists(c.Request.Context()) {
		checks["object_store"] = gin.H{"status": "healthy"}
	} else {
		checks["object_store"] = gin.H{"status": "unhealthy"}
		healthy = false
	}

	status := http.StatusOK
	readiness := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		readiness = "not_ready"
	}
	c.JSON(status, gin.H{"status": readiness, "checks": checks})
}

// respondError maps the error taxonomy onto transport status codes. Anything
// outside the taxonomy is a generic 500 with the detail logged, not leaked.
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrPayloadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": verr.Reason})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
	default:
		h.log.Error(fallback,
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func observeOperation(operation, status string) {
	middleware.ImageOperations.WithLabelValues(operation, status).Inc()
}
