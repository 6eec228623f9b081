// Package redis mirrors session bookkeeping into Redis hashes for deployments
// that share session state with other tooling.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a session record outlives its last write.
const DefaultTTL = 7 * 24 * time.Hour

const keyPrefix = "pairing:session:"

const (
	fieldID              = "session_id"
	fieldCheckpoint      = "checkpoint_name"
	fieldDeviceA         = "device_a_id"
	fieldDeviceB         = "device_b_id"
	fieldTotalImages     = "total_images"
	fieldProcessedImages = "processed_images"
	fieldStatus          = "status"
	fieldCreatedAt       = "created_at"
	fieldCompletedAt     = "completed_at"
)

// incrementScript bumps processed_images only when the session hash exists.
var incrementScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local n = redis.call("HINCRBY", KEYS[1], "processed_images", 1)
redis.call("PEXPIRE", KEYS[1], ARGV[1])
return n
`)

// completeScript marks the session completed, keeping the first completion time.
var completeScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
redis.call("HSET", KEYS[1], "status", ARGV[1])
redis.call("HSETNX", KEYS[1], "completed_at", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// Store is a Redis-backed storage.SessionRepository.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
}

// Open connects to the Redis server at url and verifies it responds.
func Open(ctx context.Context, url string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, ttl), nil
}

// New wraps an existing client. A non-positive ttl uses DefaultTTL.
func New(client *goredis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// Close releases the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// PersistCreated writes a new session hash.
func (s *Store) PersistCreated(ctx context.Context, session storage.SessionRecord) error {
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if session.Status == "" {
		session.Status = domain.StatusActive
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	key := sessionKey(session.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, encodeRecord(session))
		pipe.PExpire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// IncrementProcessed bumps the processed image count of a session.
func (s *Store) IncrementProcessed(ctx context.Context, sessionID string) error {
	n, err := incrementScript.Run(ctx, s.client, []string{sessionKey(sessionID)}, s.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("increment processed: %w", err)
	}
	if n < 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// MarkCompleted closes a session.
func (s *Store) MarkCompleted(ctx context.Context, sessionID string, completedAt time.Time) error {
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	n, err := completeScript.Run(ctx, s.client, []string{sessionKey(sessionID)},
		string(domain.StatusCompleted),
		completedAt.UTC().UnixMilli(),
		s.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	if n < 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// GetSession loads a session hash.
func (s *Store) GetSession(ctx context.Context, sessionID string) (storage.SessionRecord, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return storage.SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return storage.SessionRecord{}, domain.ErrSessionNotFound
	}
	return decodeRecord(fields)
}

func sessionKey(sessionID string) string {
	return keyPrefix + sessionID
}

func encodeRecord(session storage.SessionRecord) map[string]any {
	fields := map[string]any{
		fieldID:              session.ID,
		fieldCheckpoint:      session.Checkpoint,
		fieldDeviceA:         session.DeviceAID,
		fieldDeviceB:         session.DeviceBID,
		fieldTotalImages:     session.TotalImages,
		fieldProcessedImages: session.ProcessedImages,
		fieldStatus:          string(session.Status),
		fieldCreatedAt:       session.CreatedAt.UTC().UnixMilli(),
	}
	if !session.CompletedAt.IsZero() {
		fields[fieldCompletedAt] = session.CompletedAt.UTC().UnixMilli()
	}
	return fields
}

func decodeRecord(fields map[string]string) (storage.SessionRecord, error) {
	record := storage.SessionRecord{
		ID:         fields[fieldID],
		Checkpoint: fields[fieldCheckpoint],
		DeviceAID:  fields[fieldDeviceA],
		DeviceBID:  fields[fieldDeviceB],
		Status:     domain.Status(fields[fieldStatus]),
	}
	var err error
	if record.TotalImages, err = atoiField(fields, fieldTotalImages); err != nil {
		return storage.SessionRecord{}, err
	}
	if record.ProcessedImages, err = atoiField(fields, fieldProcessedImages); err != nil {
		return storage.SessionRecord{}, err
	}
	if record.CreatedAt, err = timeField(fields, fieldCreatedAt); err != nil {
		return storage.SessionRecord{}, err
	}
	if record.CompletedAt, err = timeField(fields, fieldCompletedAt); err != nil {
		return storage.SessionRecord{}, err
	}
	return record, nil
}

func atoiField(fields map[string]string, name string) (int, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", name, err)
	}
	return n, nil
}

func timeField(fields map[string]string, name string) (time.Time, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

var _ storage.SessionRepository = (*Store)(nil)
