package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tableware-inspector/internal/config"
	apperrors "tableware-inspector/internal/errors"
	"tableware-inspector/internal/logger"
	"tableware-inspector/internal/pipeline"

	"github.com/gin-gonic/gin"
	"gocv.io/x/gocv"
)

// Inspector is the pipeline surface served over HTTP.
type Inspector interface {
	Inspect(ctx context.Context, img gocv.Mat) (*pipeline.Report, error)
	Strategy() config.Strategy
	ClassifierName() string
	Stages() []string
}

// CacheReporter exposes classification cache state for /cache/status.
type CacheReporter interface {
	IsReady() bool
	StatusInfo() string
	Path() string
	ParamHash() uint32
	MemoryUsageMB() float64
}

// StatsReporter exposes aggregated inspection counts for /stats.
type StatsReporter interface {
	Snapshot() pipeline.StatsSnapshot
}

// Option configures optional handler dependencies.
type Option func(*handler)

// WithCache enables /cache/status reporting.
func WithCache(cache CacheReporter) Option {
	return func(h *handler) { h.cache = cache }
}

// WithStats enables /stats.
func WithStats(stats StatsReporter) Option {
	return func(h *handler) { h.stats = stats }
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// InspectResponse is the report plus an optional base64 PNG of the mask.
type InspectResponse struct {
	*pipeline.Report
	MaskPNG string `json:"mask_png,omitempty"`
}

type handler struct {
	inspector Inspector
	cache     CacheReporter
	stats     StatsReporter
	server    config.ServerConfig
	logger    logger.Logger
	started   time.Time

	// the pipeline is single-threaded; requests take turns
	mu sync.Mutex
}

// NewHandler builds the gin engine.
func NewHandler(inspector Inspector, server config.ServerConfig, log logger.Logger, opts ...Option) http.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	h := &handler{
		inspector: inspector,
		server:    server,
		logger:    log,
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		h.requestLogger(),
		requestSizeLimiter(server.MaxRequestBodySize),
	)

	r.GET("/health", h.healthCheck)
	r.GET("/cache/status", h.cacheStatus)
	r.GET("/stats", h.statsSnapshot)
	r.POST("/inspect", h.inspect)

	return r
}

func (h *handler) inspect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.server.RequestTimeout)
	defer cancel()

	file, err := c.FormFile("image")
	if err != nil {
		h.respondError(c, apperrors.NewValidationError("multipart field \"image\" is required", err))
		return
	}

	src, err := file.Open()
	if err != nil {
		h.respondError(c, apperrors.NewIOError("failed to open upload", err))
		return
	}
	data, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		h.respondError(c, apperrors.NewValidationError("failed to read upload", err))
		return
	}

	img, err := pipeline.DecodeImage(data)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer img.Close()

	h.mu.Lock()
	report, err := h.inspector.Inspect(ctx, img)
	h.mu.Unlock()
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer report.Close()

	resp := InspectResponse{Report: report}
	if includeMask, _ := strconv.ParseBool(c.Query("include_mask")); includeMask {
		png, err := pipeline.EncodeMask(report.Mask)
		if err != nil {
			h.respondError(c, err)
			return
		}
		resp.MaskPNG = base64.StdEncoding.EncodeToString(png)
	}

	h.logger.Info("HTTPHandler", "inspection served", map[string]interface{}{
		"file":       file.Filename,
		"size_bytes": file.Size,
		"verdict":    report.Verdict,
	})

	c.JSON(http.StatusOK, resp)
}

func (h *handler) healthCheck(c *gin.Context) {
	status := "available"
	if h.cache != nil && !h.cache.IsReady() {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"strategy":   h.inspector.Strategy(),
		"classifier": h.inspector.ClassifierName(),
		"stages":     h.inspector.Stages(),
		"uptime":     time.Since(h.started).Round(time.Second).String(),
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) cacheStatus(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":    true,
		"ready":      h.cache.IsReady(),
		"status":     h.cache.StatusInfo(),
		"path":       h.cache.Path(),
		"param_hash": h.cache.ParamHash(),
		"memory_mb":  h.cache.MemoryUsageMB(),
	})
}

func (h *handler) statsSnapshot(c *gin.Context) {
	if h.stats == nil {
		h.respondError(c, apperrors.NewNotFoundError("inspection statistics are not enabled", nil))
		return
	}
	c.JSON(http.StatusOK, h.stats.Snapshot())
}

func (h *handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		h.logger.Debug("HTTPHandler", "request", map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"ip":          c.ClientIP(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// determineStatusCode checks the cause chain before the outermost AppError,
// so a timeout wrapped in a processing error still reports 504.
func determineStatusCode(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func (h *handler) respondError(c *gin.Context, err error) {
	code := determineStatusCode(err)
	h.logger.Error("HTTPHandler", err, map[string]interface{}{
		"status_code": code,
		"path":        c.Request.URL.Path,
	})

	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: err.Error(),
	})
}
