package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/facemask/internal/auth"
	"github.com/example/facemask/internal/repository"
	"github.com/example/facemask/internal/usecase"
)

// MaxBodySize bounds the size of a submitted job payload.
const MaxBodySize = 20 << 20

// svgContentSecurityPolicy only lets a served mask document load its embedded data
// URI image.
const svgContentSecurityPolicy = "default-src 'none'; img-src data:; style-src 'unsafe-inline'"

// JobService is the use case surface exposed over HTTP.
type JobService interface {
	SubmitJob(ctx context.Context, ownerID string, req usecase.SubmitRequest) (*usecase.JobStatus, bool, error)
	GetJob(ctx context.Context, ownerID, jobID string) (*usecase.JobStatus, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Options configures the mounted routes.
type Options struct {
	APIVersion     string
	APIPrefix      string
	MetricsHandler http.Handler
}

type submitRequest struct {
	Image           string          `json:"image" binding:"required"`
	Landmarks       json.RawMessage `json:"landmarks" binding:"required"`
	SegmentationMap string          `json:"segmentation_map"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc JobService, authMiddleware gin.HandlerFunc, opts Options) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":     "facial landmark crop service",
			"api_version": opts.APIVersion,
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}

	api := router.Group(opts.APIPrefix)
	if authMiddleware != nil {
		api.Use(authMiddleware)
	}

	api.POST("/crop/submit", func(c *gin.Context) {
		ownerID, ok := requireOwner(c)
		if !ok {
			return
		}

		if c.Request.ContentLength > MaxBodySize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodySize)

		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image and landmarks are required"})
			return
		}

		status, reused, err := svc.SubmitJob(c.Request.Context(), ownerID, usecase.SubmitRequest{
			Image:           req.Image,
			Landmarks:       req.Landmarks,
			SegmentationMap: req.SegmentationMap,
		})
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidLandmarks) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit job"})
			return
		}

		code := http.StatusAccepted
		if reused {
			code = http.StatusOK
		}
		c.JSON(code, gin.H{"id": status.ID, "status": status.Status})
	})

	api.GET("/crop/:id", func(c *gin.Context) {
		status, ok := lookupJob(c, svc)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, status)
	})

	api.GET("/crop/:id/svg", func(c *gin.Context) {
		status, ok := lookupJob(c, svc)
		if !ok {
			return
		}
		if status.Status != repository.StatusCompleted {
			c.JSON(http.StatusConflict, gin.H{"error": "job is not completed", "status": status.Status})
			return
		}
		svg, err := base64.StdEncoding.DecodeString(status.SVG)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stored svg is corrupt"})
			return
		}
		c.Header("Content-Security-Policy", svgContentSecurityPolicy)
		c.Header("X-Content-Type-Options", "nosniff")
		c.Data(http.StatusOK, "image/svg+xml", svg)
	})

	api.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func requireOwner(c *gin.Context) (string, bool) {
	ownerID, ok := auth.GetOwnerID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return ownerID, true
}

func lookupJob(c *gin.Context, svc JobService) (*usecase.JobStatus, bool) {
	ownerID, ok := requireOwner(c)
	if !ok {
		return nil, false
	}
	jobID := c.Param("id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return nil, false
	}

	status, err := svc.GetJob(c.Request.Context(), ownerID, jobID)
	if err != nil {
		if errors.Is(err, usecase.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return nil, false
	}
	return status, true
}
