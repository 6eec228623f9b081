// Package api serves the HTTP collaborators of the pairing service: image
// uploads, checkpoint summaries, session start and stored file downloads.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/louisbranch/checkpointsync/internal/platform/id"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/coordinator"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage/blob"
	"go.uber.org/zap"
)

// DefaultMaxUploadBytes caps one uploaded image.
const DefaultMaxUploadBytes int64 = 10 << 20

// multipartOverhead is the request body allowance on top of the file itself.
const multipartOverhead int64 = 1 << 20

// Sessions is the slice of the session store the handlers use.
type Sessions interface {
	Create(ctx context.Context, checkpoint string, requestedCount int, deviceID string) (domain.Session, error)
	Get(sessionID string) (domain.Session, bool)
	Active(checkpoint string) (domain.Session, bool)
}

// Coordinator receives session starts and confirmed captures.
type Coordinator interface {
	SessionStarted(session domain.Session)
	ConfirmCapture(ctx context.Context, capture coordinator.Capture) (domain.AdvanceResult, error)
}

// IDGenerator names uploaded images.
type IDGenerator interface {
	ImageID() string
	Filename(ext string) string
}

// Config wires a Handler.
type Config struct {
	Images         storage.ImageRepository
	Blobs          blob.Store
	Sessions       Sessions
	Coordinator    Coordinator
	Logger         *zap.Logger
	IDs            IDGenerator
	Checkpoints    coordinator.Allowlist
	MaxUploadBytes int64
	Now            func() time.Time
}

// Handler holds the HTTP endpoints.
type Handler struct {
	images      storage.ImageRepository
	blobs       blob.Store
	sessions    Sessions
	coordinator Coordinator
	log         *zap.Logger
	ids         IDGenerator
	allow       coordinator.Allowlist
	maxUpload   int64
	now         func() time.Time
}

// New builds a Handler.
func New(cfg Config) *Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ids := cfg.IDs
	if ids == nil {
		ids = id.NewGenerator()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		images:      cfg.Images,
		blobs:       cfg.Blobs,
		sessions:    cfg.Sessions,
		coordinator: cfg.Coordinator,
		log:         log,
		ids:         ids,
		allow:       cfg.Checkpoints,
		maxUpload:   maxUpload,
		now:         now,
	}
}

// Register mounts the endpoints on router.
func (h *Handler) Register(router gin.IRouter) {
	router.GET("/up", h.health)
	router.GET(storage.UploadsPrefix+"*path", h.serveFile)

	api := router.Group("/api")
	{
		api.POST("/upload", h.uploadOriginal)
		api.POST("/upload-spoof", h.uploadSpoof)
		api.GET("/checkpoints", h.listCheckpoints)
		api.POST("/start-session", h.startSession)
		api.GET("/sessions/:id", h.getSession)
	}
}

// NewRouter returns a gin engine with recovery, request logging and the
// handler's routes.
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.log))
	router.MaxMultipartMemory = h.maxUpload
	h.Register(router)
	return router
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			log.Warn("http request", fields...)
			return
		}
		log.Debug("http request", fields...)
	}
}
