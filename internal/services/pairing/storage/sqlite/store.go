package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/checkpointsync/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed image and session persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a pairing SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// InsertImage persists one uploaded original image.
func (s *Store) InsertImage(ctx context.Context, image storage.ImageRecord) (storage.ImageRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.ImageRecord{}, err
	}

	image.ID = strings.TrimSpace(image.ID)
	image.Checkpoint = strings.TrimSpace(image.Checkpoint)
	if image.ID == "" {
		return storage.ImageRecord{}, fmt.Errorf("image id is required")
	}
	if image.Checkpoint == "" {
		return storage.ImageRecord{}, fmt.Errorf("checkpoint name is required")
	}
	if image.OriginalFilename == "" || image.OriginalFilePath == "" {
		return storage.ImageRecord{}, fmt.Errorf("original file is required")
	}
	if image.SequenceOrder < 0 {
		return storage.ImageRecord{}, fmt.Errorf("sequence order must not be negative")
	}
	if image.UploadedAt.IsZero() {
		image.UploadedAt = time.Now().UTC()
	}
	image.Processed = false
	image.ProcessedAt = time.Time{}
	image.SpoofedFilePath = ""

	err := s.sqlDB.QueryRowContext(ctx, `
INSERT INTO image_info (
	image_id,
	checkpoint_name,
	is_processed,
	uploaded_at,
	original_filename,
	original_file_path,
	sequence_order,
	file_extension
)
SELECT ?, ?, 0, ?, ?, ?,
	CASE WHEN ? > 0 THEN ? ELSE COALESCE(MAX(sequence_order), 0) + 1 END,
	?
FROM image_info
WHERE checkpoint_name = ?
RETURNING sequence_order
`,
		image.ID,
		image.Checkpoint,
		image.UploadedAt.UTC().UnixMilli(),
		image.OriginalFilename,
		image.OriginalFilePath,
		image.SequenceOrder,
		image.SequenceOrder,
		image.FileExtension,
		image.Checkpoint,
	).Scan(&image.SequenceOrder)
	if err != nil {
		return storage.ImageRecord{}, fmt.Errorf("insert image: %w", err)
	}
	return image, nil
}

// GetImage loads one image by id.
func (s *Store) GetImage(ctx context.Context, imageID string) (storage.ImageRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.ImageRecord{}, err
	}
	imageID = strings.TrimSpace(imageID)
	if imageID == "" {
		return storage.ImageRecord{}, fmt.Errorf("image id is required")
	}

	var record storage.ImageRecord
	var processed int
	var uploadedAt int64
	var processedAt sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT
	image_id,
	checkpoint_name,
	is_processed,
	uploaded_at,
	processed_at,
	original_filename,
	original_file_path,
	spoofed_file_path,
	sequence_order,
	file_extension
FROM image_info
WHERE image_id = ?
`, imageID).Scan(
		&record.ID,
		&record.Checkpoint,
		&processed,
		&uploadedAt,
		&processedAt,
		&record.OriginalFilename,
		&record.OriginalFilePath,
		&record.SpoofedFilePath,
		&record.SequenceOrder,
		&record.FileExtension,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ImageRecord{}, domain.ErrImageNotFound
	}
	if err != nil {
		return storage.ImageRecord{}, fmt.Errorf("get image: %w", err)
	}
	record.Processed = processed != 0
	record.UploadedAt = time.UnixMilli(uploadedAt).UTC()
	if processedAt.Valid {
		record.ProcessedAt = time.UnixMilli(processedAt.Int64).UTC()
	}
	return record, nil
}

// FindUnprocessed lists up to limit unprocessed images in sequence order.
func (s *Store) FindUnprocessed(ctx context.Context, checkpoint string, limit int) ([]domain.ImageQueueEntry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT image_id, sequence_order, original_file_path
FROM image_info
WHERE checkpoint_name = ? AND is_processed = 0
ORDER BY sequence_order ASC
LIMIT ?
`, checkpoint, limit)
	if err != nil {
		return nil, fmt.Errorf("find unprocessed images: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.ImageQueueEntry, 0, min(limit, 64))
	for rows.Next() {
		var record storage.ImageRecord
		if err := rows.Scan(&record.ID, &record.SequenceOrder, &record.OriginalFilePath); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		entries = append(entries, record.QueueEntry())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return entries, nil
}

// MarkProcessed records the spoofed capture for an unprocessed image.
func (s *Store) MarkProcessed(ctx context.Context, imageID string, spoofedFilePath string, processedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE image_info
SET is_processed = 1, spoofed_file_path = ?, processed_at = ?
WHERE image_id = ? AND is_processed = 0
`, spoofedFilePath, processedAt.UTC().UnixMilli(), imageID)
	if err != nil {
		return fmt.Errorf("mark image processed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark image processed: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.GetImage(ctx, imageID); err != nil {
		return err
	}
	return domain.ErrImageAlreadyProcessed
}

// ReleaseProcessed clears a processed mark that still points at
// spoofedFilePath. Images claimed by another capture are left alone.
func (s *Store) ReleaseProcessed(ctx context.Context, imageID string, spoofedFilePath string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE image_info
SET is_processed = 0, spoofed_file_path = '', processed_at = NULL
WHERE image_id = ? AND is_processed = 1 AND spoofed_file_path = ?
`, imageID, spoofedFilePath); err != nil {
		return fmt.Errorf("release processed image: %w", err)
	}
	return nil
}

// NextSequenceOrder returns the order the next upload for checkpoint receives.
func (s *Store) NextSequenceOrder(ctx context.Context, checkpoint string) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var next int64
	if err := s.sqlDB.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence_order), 0) + 1 FROM image_info WHERE checkpoint_name = ?",
		checkpoint,
	).Scan(&next); err != nil {
		return 0, fmt.Errorf("next sequence order: %w", err)
	}
	return next, nil
}

// ListCheckpoints aggregates image counts per checkpoint by name.
func (s *Store) ListCheckpoints(ctx context.Context) ([]storage.CheckpointSummary, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	checkpoint_name,
	COUNT(*),
	SUM(CASE WHEN is_processed = 1 THEN 1 ELSE 0 END),
	SUM(CASE WHEN is_processed = 0 THEN 1 ELSE 0 END)
FROM image_info
GROUP BY checkpoint_name
ORDER BY checkpoint_name
`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var summaries []storage.CheckpointSummary
	for rows.Next() {
		var summary storage.CheckpointSummary
		if err := rows.Scan(&summary.Name, &summary.TotalImages, &summary.ProcessedImages, &summary.PendingImages); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return summaries, nil
}

// PersistCreated inserts the durable record of a new session.
func (s *Store) PersistCreated(ctx context.Context, session storage.SessionRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.Checkpoint) == "" {
		return fmt.Errorf("checkpoint name is required")
	}
	if session.Status == "" {
		session.Status = domain.StatusActive
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (
	session_id,
	checkpoint_name,
	device_a_id,
	device_b_id,
	total_images,
	processed_images,
	status,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		session.ID,
		session.Checkpoint,
		session.DeviceAID,
		session.DeviceBID,
		session.TotalImages,
		session.ProcessedImages,
		string(session.Status),
		session.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// IncrementProcessed bumps the processed image count of a session.
func (s *Store) IncrementProcessed(ctx context.Context, sessionID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE sessions SET processed_images = processed_images + 1 WHERE session_id = ?",
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("increment processed: %w", err)
	}
	return requireAffected(result, "increment processed")
}

// MarkCompleted closes an active session. Completing an already completed
// session keeps the first completion time.
func (s *Store) MarkCompleted(ctx context.Context, sessionID string, completedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE sessions
SET status = ?, completed_at = COALESCE(completed_at, ?)
WHERE session_id = ?
`, string(domain.StatusCompleted), completedAt.UTC().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	return requireAffected(result, "mark session completed")
}

// GetSession loads the durable record of a session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (storage.SessionRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.SessionRecord{}, err
	}

	var record storage.SessionRecord
	var status string
	var createdAt int64
	var completedAt sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT
	session_id,
	checkpoint_name,
	device_a_id,
	device_b_id,
	total_images,
	processed_images,
	status,
	created_at,
	completed_at
FROM sessions
WHERE session_id = ?
`, sessionID).Scan(
		&record.ID,
		&record.Checkpoint,
		&record.DeviceAID,
		&record.DeviceBID,
		&record.TotalImages,
		&record.ProcessedImages,
		&status,
		&createdAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SessionRecord{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return storage.SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	record.Status = domain.Status(status)
	record.CreatedAt = time.UnixMilli(createdAt).UTC()
	if completedAt.Valid {
		record.CompletedAt = time.UnixMilli(completedAt.Int64).UTC()
	}
	return record, nil
}

func requireAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

var (
	_ storage.ImageRepository   = (*Store)(nil)
	_ storage.SessionRepository = (*Store)(nil)
)
