package api

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/louisbranch/checkpointsync/internal/platform/errors"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/coordinator"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage/blob"
	"go.uber.org/zap"
)

// imageTypes maps accepted file extensions to their content types.
var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

type uploadResponse struct {
	Success          bool   `json:"success"`
	ImageID          string `json:"image_id"`
	CheckpointName   string `json:"checkpoint_name"`
	OriginalFilePath string `json:"original_file_path"`
	OriginalFilename string `json:"original_filename"`
	ImageURL         string `json:"image_url"`
	SequenceOrder    int64  `json:"sequence_order"`
}

type spoofResponse struct {
	Success          bool      `json:"success"`
	ImageID          string    `json:"image_id"`
	CheckpointName   string    `json:"checkpoint_name"`
	SessionID        string    `json:"session_id"`
	OriginalFilePath string    `json:"original_file_path"`
	SpoofedFilePath  string    `json:"spoofed_file_path"`
	ProcessedAt      time.Time `json:"processed_at"`
	NextIndex        int       `json:"next_index"`
	Completed        bool      `json:"completed"`
}

func (h *Handler) uploadOriginal(c *gin.Context) {
	file, err := h.formFile(c, "image")
	if err != nil {
		h.fail(c, err)
		return
	}
	checkpoint, err := h.checkpoint(formValue(c, "checkpoint_name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ext, contentType, err := imageType(file)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	filename := h.ids.Filename(ext)
	key := blob.Key(blob.KindOriginal, checkpoint, filename)
	if err := h.store(ctx, key, file, contentType); err != nil {
		h.fail(c, err)
		return
	}

	record, err := h.images.InsertImage(ctx, storage.ImageRecord{
		ID:               h.ids.ImageID(),
		Checkpoint:       checkpoint,
		UploadedAt:       h.now().UTC(),
		OriginalFilename: filename,
		OriginalFilePath: key,
		FileExtension:    ext,
	})
	if err != nil {
		h.fail(c, fmt.Errorf("insert image: %w", err))
		return
	}

	h.log.Info("original uploaded",
		zap.String("checkpoint", checkpoint),
		zap.String("image_id", record.ID),
		zap.Int64("sequence_order", record.SequenceOrder),
	)
	c.JSON(http.StatusOK, uploadResponse{
		Success:          true,
		ImageID:          record.ID,
		CheckpointName:   checkpoint,
		OriginalFilePath: record.OriginalFilePath,
		OriginalFilename: record.OriginalFilename,
		ImageURL:         storage.ImageURL(record.OriginalFilePath),
		SequenceOrder:    record.SequenceOrder,
	})
}

func (h *Handler) uploadSpoof(c *gin.Context) {
	file, err := h.formFile(c, "spoof_image")
	if err != nil {
		h.fail(c, err)
		return
	}
	imageID := strings.TrimSpace(formValue(c, "image_id"))
	sessionID := strings.TrimSpace(formValue(c, "session_id"))
	if imageID == "" || sessionID == "" {
		h.fail(c, invalid("image_id, checkpoint_name, session_id and spoof_image are required"))
		return
	}
	checkpoint, err := h.checkpoint(formValue(c, "checkpoint_name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	_, contentType, err := imageType(file)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	original, err := h.images.GetImage(ctx, imageID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if original.Checkpoint != checkpoint {
		h.fail(c, domain.ErrImageNotFound)
		return
	}
	if original.Processed {
		h.fail(c, domain.ErrImageAlreadyProcessed)
		return
	}
	if err := h.expectCurrent(sessionID, checkpoint, imageID); err != nil {
		h.fail(c, err)
		return
	}

	// Only the upload holding the claim writes the spoofed blob.
	key := blob.Key(blob.KindSpoofed, checkpoint, original.OriginalFilename)
	processedAt := h.now().UTC()
	if err := h.images.MarkProcessed(ctx, imageID, key, processedAt); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.store(ctx, key, file, contentType); err != nil {
		if releaseErr := h.images.ReleaseProcessed(context.WithoutCancel(ctx), imageID, key); releaseErr != nil {
			h.log.Error("release capture claim failed",
				zap.String("image_id", imageID),
				zap.String("key", key),
				zap.Error(releaseErr),
			)
		}
		h.fail(c, err)
		return
	}

	result, err := h.coordinator.ConfirmCapture(ctx, coordinator.Capture{
		SessionID:       sessionID,
		ImageID:         imageID,
		Checkpoint:      checkpoint,
		SpoofedFilePath: key,
	})
	if err != nil {
		h.log.Warn("capture stored but not confirmed",
			zap.String("checkpoint", checkpoint),
			zap.String("session_id", sessionID),
			zap.String("image_id", imageID),
			zap.Error(err),
		)
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, spoofResponse{
		Success:          true,
		ImageID:          imageID,
		CheckpointName:   checkpoint,
		SessionID:        sessionID,
		OriginalFilePath: original.OriginalFilePath,
		SpoofedFilePath:  key,
		ProcessedAt:      processedAt,
		NextIndex:        result.NewIndex,
		Completed:        result.Completed,
	})
}

// expectCurrent rejects captures for anything but the session's current image
// before the upload is stored.
func (h *Handler) expectCurrent(sessionID, checkpoint, imageID string) error {
	session, ok := h.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if session.Checkpoint != checkpoint {
		return domain.ErrCheckpointMismatch
	}
	if !session.Active() {
		return domain.ErrSessionAlreadyCompleted
	}
	current, ok := session.Current()
	if !ok || current.ImageID != imageID {
		return domain.ErrImageOutOfOrder
	}
	return nil
}

func (h *Handler) checkpoint(raw string) (string, error) {
	checkpoint, err := domain.NormalizeCheckpoint(raw)
	if err != nil {
		return "", err
	}
	if h.allow != nil && !h.allow.Allows(checkpoint) {
		return "", apperrors.WithMetadata(apperrors.CodeUnknownCheckpoint, "checkpoint is not configured",
			map[string]string{"checkpoint_name": checkpoint})
	}
	return checkpoint, nil
}

func (h *Handler) formFile(c *gin.Context, field string) (*multipart.FileHeader, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)
	file, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, invalid(field + " file is required")
	}
	if file.Size > h.maxUpload {
		return nil, apperrors.New(apperrors.CodePayloadTooLarge, "upload exceeds size limit")
	}
	return file, nil
}

func (h *Handler) store(ctx context.Context, key string, file *multipart.FileHeader, contentType string) error {
	body, err := file.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer body.Close()
	if err := h.blobs.Put(ctx, key, body, file.Size, contentType); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// imageType resolves the stored extension and content type of an upload
// from its filename, falling back to the declared content type.
func imageType(file *multipart.FileHeader) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if contentType, ok := imageTypes[ext]; ok {
		return ext, contentType, nil
	}
	declared := strings.ToLower(strings.TrimSpace(file.Header.Get("Content-Type")))
	for _, candidate := range []string{".jpg", ".png", ".webp", ".gif"} {
		if imageTypes[candidate] == declared {
			return candidate, declared, nil
		}
	}
	return "", "", invalid("only jpeg, png, webp and gif images are allowed")
}

// formValue reads a multipart field, accepting the query string as well.
func formValue(c *gin.Context, name string) string {
	if value := c.PostForm(name); value != "" {
		return value
	}
	return c.Query(name)
}
