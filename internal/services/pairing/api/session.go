package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/session"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage/blob"
	"go.uber.org/zap"
)

type startSessionRequest struct {
	CheckpointName string `json:"checkpoint_name"`
	ImageCount     int    `json:"image_count"`
	DeviceID       string `json:"device_id"`
}

type currentImage struct {
	ImageID        string `json:"image_id"`
	CheckpointName string `json:"checkpoint_name"`
	ImageURL       string `json:"image_url"`
	SequenceOrder  int64  `json:"sequence_order"`
	TargetFilename string `json:"target_filename"`
}

type sessionResponse struct {
	Success bool `json:"success"`
	domain.Session
	TotalImages  int           `json:"total_images"`
	CurrentImage *currentImage `json:"current_image"`
	Resumed      bool          `json:"resumed,omitempty"`
}

func (h *Handler) listCheckpoints(c *gin.Context) {
	checkpoints, err := h.images.ListCheckpoints(c.Request.Context())
	if err != nil {
		h.fail(c, fmt.Errorf("list checkpoints: %w", err))
		return
	}
	if checkpoints == nil {
		checkpoints = []storage.CheckpointSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": checkpoints})
}

func (h *Handler) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, invalid("request body must be JSON"))
		return
	}
	checkpoint, err := h.checkpoint(req.CheckpointName)
	if err != nil {
		h.fail(c, err)
		return
	}
	if req.ImageCount <= 0 {
		h.fail(c, invalid("image_count must be positive"))
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)

	if resumed, ok := h.resumable(checkpoint, deviceID); ok {
		h.log.Info("session resumed",
			zap.String("checkpoint", checkpoint),
			zap.String("session_id", resumed.ID),
			zap.String("device_id", deviceID),
		)
		h.coordinator.SessionStarted(resumed)
		c.JSON(http.StatusOK, newSessionResponse(resumed, true))
		return
	}

	created, err := h.sessions.Create(c.Request.Context(), checkpoint, req.ImageCount, deviceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.coordinator.SessionStarted(created)
	c.JSON(http.StatusOK, newSessionResponse(created, false))
}

// resumable returns the checkpoint's active session when the same display
// device started it.
func (h *Handler) resumable(checkpoint, deviceID string) (domain.Session, bool) {
	if deviceID == "" || deviceID == session.UnknownDevice {
		return domain.Session{}, false
	}
	active, ok := h.sessions.Active(checkpoint)
	if !ok || active.DeviceAID != deviceID {
		return domain.Session{}, false
	}
	return active, true
}

func (h *Handler) getSession(c *gin.Context) {
	found, ok := h.sessions.Get(c.Param("id"))
	if !ok {
		h.fail(c, domain.ErrSessionNotFound)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(found, false))
}

func (h *Handler) serveFile(c *gin.Context) {
	key, err := blob.CleanKey(c.Param("path"))
	if err != nil {
		h.fail(c, err)
		return
	}
	body, info, err := h.blobs.Open(c.Request.Context(), key)
	if err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			err = fmt.Errorf("open %s: %w", key, err)
		}
		h.fail(c, err)
		return
	}
	defer body.Close()
	contentType := info.ContentType
	if contentType == "" {
		contentType = blob.ContentType(key)
	}
	c.DataFromReader(http.StatusOK, info.Size, contentType, body, nil)
}

func newSessionResponse(s domain.Session, resumed bool) sessionResponse {
	resp := sessionResponse{
		Success:     true,
		Session:     s,
		TotalImages: s.Total(),
		Resumed:     resumed,
	}
	if entry, ok := s.Current(); ok {
		resp.CurrentImage = &currentImage{
			ImageID:        entry.ImageID,
			CheckpointName: s.Checkpoint,
			ImageURL:       entry.ImageURL,
			SequenceOrder:  entry.SequenceOrder,
			TargetFilename: entry.TargetFilename(),
		}
	}
	return resp
}
