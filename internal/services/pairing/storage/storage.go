// Package storage defines the durable records behind pairing sessions and the
// repository contracts the session store and HTTP handlers call into.
package storage

import (
	"context"
	"time"

	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
)

// UploadsPrefix is the URL path under which stored blobs are served.
const UploadsPrefix = "/uploads/"

// ImageURL returns the public URL of a stored blob path.
func ImageURL(filePath string) string {
	return UploadsPrefix + filePath
}

// ImageRecord is one uploaded reference image.
type ImageRecord struct {
	ID               string
	Checkpoint       string
	Processed        bool
	UploadedAt       time.Time
	ProcessedAt      time.Time
	OriginalFilename string
	OriginalFilePath string
	SpoofedFilePath  string
	SequenceOrder    int64
	FileExtension    string
}

// QueueEntry converts the record to a session queue entry.
func (r ImageRecord) QueueEntry() domain.ImageQueueEntry {
	return domain.ImageQueueEntry{
		ImageID:          r.ID,
		SequenceOrder:    r.SequenceOrder,
		OriginalFilePath: r.OriginalFilePath,
		ImageURL:         ImageURL(r.OriginalFilePath),
	}
}

// SessionRecord is the durable bookkeeping copy of a session.
type SessionRecord struct {
	ID              string
	Checkpoint      string
	DeviceAID       string
	DeviceBID       string
	TotalImages     int
	ProcessedImages int
	Status          domain.Status
	CreatedAt       time.Time
	CompletedAt     time.Time
}

// CheckpointSummary aggregates image counts for one checkpoint.
type CheckpointSummary struct {
	Name            string `json:"name"`
	TotalImages     int    `json:"total_images"`
	ProcessedImages int    `json:"processed_images"`
	PendingImages   int    `json:"pending_images"`
}

// ImageRepository persists reference image metadata.
type ImageRepository interface {
	// InsertImage stores a new image. A zero SequenceOrder is assigned the
	// checkpoint's next order atomically; the stored record is returned.
	InsertImage(ctx context.Context, image ImageRecord) (ImageRecord, error)
	GetImage(ctx context.Context, imageID string) (ImageRecord, error)
	// FindUnprocessed returns up to limit unprocessed images ordered by
	// ascending sequence order.
	FindUnprocessed(ctx context.Context, checkpoint string, limit int) ([]domain.ImageQueueEntry, error)
	// MarkProcessed fails with NOT_FOUND or ALREADY_PROCESSED.
	MarkProcessed(ctx context.Context, imageID string, spoofedFilePath string, processedAt time.Time) error
	// ReleaseProcessed undoes a MarkProcessed claim made with spoofedFilePath.
	ReleaseProcessed(ctx context.Context, imageID string, spoofedFilePath string) error
	NextSequenceOrder(ctx context.Context, checkpoint string) (int64, error)
	ListCheckpoints(ctx context.Context) ([]CheckpointSummary, error)
}

// SessionRepository persists session bookkeeping.
type SessionRepository interface {
	PersistCreated(ctx context.Context, session SessionRecord) error
	IncrementProcessed(ctx context.Context, sessionID string) error
	MarkCompleted(ctx context.Context, sessionID string, completedAt time.Time) error
	GetSession(ctx context.Context, sessionID string) (SessionRecord, error)
}
