// Package api serves extraction over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devicelab-dev/ride-scanner/pkg/cache"
	"github.com/devicelab-dev/ride-scanner/pkg/core"
	"github.com/devicelab-dev/ride-scanner/pkg/extract"
)

// Extractor runs extractions. Implemented by extract.Orchestrator.
type Extractor interface {
	Services() []string
	Service(name string) (extract.Service, bool)
	Extract(ctx context.Context, service string, pickup, dropoff core.Coordinate) extract.ServiceResult
	ExtractAllResults(ctx context.Context, services []string, pickup, dropoff core.Coordinate) []extract.ServiceResult
}

// SessionLister reports live sessions. Implemented by session.Pool.
type SessionLister interface {
	Packages() []string
}

// ExtractRequest is the body of every extraction endpoint.
type ExtractRequest struct {
	PickupLat  *float64 `json:"pickup_lat" binding:"required,gte=-90,lte=90"`
	PickupLng  *float64 `json:"pickup_lng" binding:"required,gte=-180,lte=180"`
	DropoffLat *float64 `json:"dropoff_lat" binding:"required,gte=-90,lte=90"`
	DropoffLng *float64 `json:"dropoff_lng" binding:"required,gte=-180,lte=180"`

	// Services limits /extract-all; empty means every configured service
	Services []string `json:"services"`
}

func (r ExtractRequest) route() (pickup, dropoff core.Coordinate) {
	return core.Coordinate{Lat: *r.PickupLat, Lng: *r.PickupLng},
		core.Coordinate{Lat: *r.DropoffLat, Lng: *r.DropoffLng}
}

// Handler handles HTTP requests for extraction.
type Handler struct {
	extractor Extractor
	sessions  SessionLister
	cache     cache.Store
	metrics   http.Handler
	log       *zap.Logger
}

// Deps are the collaborators of a Handler. Only Extractor is required.
type Deps struct {
	Extractor Extractor
	Sessions  SessionLister
	Cache     cache.Store
	Metrics   http.Handler
	Log       *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		extractor: d.Extractor,
		sessions:  d.Sessions,
		cache:     d.Cache,
		metrics:   d.Metrics,
		log:       log.Named("api"),
	}
}

// RegisterRoutes registers all routes on the given router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/extract/:service", h.ExtractService)
	r.POST("/extract-uber", func(c *gin.Context) { h.extractService(c, "uber") })
	r.POST("/extract-all", h.ExtractAll)
	r.POST("/diagnose/:service", h.Diagnose)

	r.GET("/health", h.Health)
	r.GET("/cache/stats", h.CacheStats)
	r.DELETE("/cache", h.ClearCache)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
}

// ExtractService handles POST /extract/:service.
func (h *Handler) ExtractService(c *gin.Context) {
	h.extractService(c, c.Param("service"))
}

func (h *Handler) extractService(c *gin.Context, service string) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	if _, known := h.extractor.Service(service); !known {
		badRequest(c, core.ErrUnknownService.WithMessage(fmt.Sprintf("unknown service %q", service)))
		return
	}

	pickup, dropoff := req.route()
	result := h.extractor.Extract(c.Request.Context(), service, pickup, dropoff)
	c.JSON(http.StatusOK, result.Quotes)
}

// ExtractAll handles POST /extract-all.
func (h *Handler) ExtractAll(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	var unknown []string
	for _, s := range req.Services {
		if _, known := h.extractor.Service(s); !known {
			unknown = append(unknown, s)
		}
	}
	if len(unknown) > 0 {
		badRequest(c, core.ErrUnknownService.WithMessage("unknown services: "+strings.Join(unknown, ", ")))
		return
	}

	pickup, dropoff := req.route()
	results := h.extractor.ExtractAllResults(c.Request.Context(), req.Services, pickup, dropoff)
	c.JSON(http.StatusOK, extract.Concat(results))
}

// Diagnose handles POST /diagnose/:service and returns the step trail.
func (h *Handler) Diagnose(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	service := c.Param("service")
	if _, known := h.extractor.Service(service); !known {
		badRequest(c, core.ErrUnknownService.WithMessage(fmt.Sprintf("unknown service %q", service)))
		return
	}

	pickup, dropoff := req.route()
	c.JSON(http.StatusOK, h.extractor.Extract(c.Request.Context(), service, pickup, dropoff))
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	sessions := []string{}
	if h.sessions != nil {
		sessions = append(sessions, h.sessions.Packages()...)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": sessions,
		"services": h.extractor.Services(),
	})
}

// CacheStats handles GET /cache/stats.
func (h *Handler) CacheStats(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusOK, cache.Stats{})
		return
	}
	st, err := h.cache.Stats(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ClearCache handles DELETE /cache.
func (h *Handler) ClearCache(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusOK, gin.H{"cleared": 0})
		return
	}
	n, err := h.cache.Clear(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	h.log.Info("cache cleared", zap.Int("entries", n))
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (h *Handler) bind(c *gin.Context) (ExtractRequest, bool) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, core.ErrRequestMalformed.WithCause(err))
		return req, false
	}
	return req, true
}

func badRequest(c *gin.Context, err *core.ExecutionError) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": err.Code})
}

func (h *Handler) internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	msg := "internal error"
	var execErr *core.ExecutionError
	if errors.As(err, &execErr) {
		msg = execErr.Message
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msg})
}
