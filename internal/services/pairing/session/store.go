// Package session owns the live state of pairing sessions: the image queue,
// the cursor, and the one-active-session-per-checkpoint guard.
package session

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/checkpointsync/internal/platform/errors"
	"github.com/louisbranch/checkpointsync/internal/platform/id"
	platformotel "github.com/louisbranch/checkpointsync/internal/platform/otel"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/louisbranch/checkpointsync/internal/services/pairing/session"

// UnknownDevice is recorded when a session is created without a device id.
const UnknownDevice = "unknown"

// IDGenerator produces session identifiers.
type IDGenerator interface {
	SessionID() string
}

// Config wires a Store to its collaborators.
type Config struct {
	Images ImageSource
	// Sessions receives durable bookkeeping writes. Nil disables them.
	Sessions     storage.SessionRepository
	Logger       *zap.Logger
	IDs          IDGenerator
	Now          func() time.Time
	WriteTimeout time.Duration
}

// ImageSource is the slice of storage.ImageRepository the store reads.
type ImageSource interface {
	FindUnprocessed(ctx context.Context, checkpoint string, limit int) ([]domain.ImageQueueEntry, error)
}

// Store is the authoritative in-memory session state.
type Store struct {
	images    ImageSource
	sessions  storage.SessionRepository
	log       *zap.Logger
	ids       IDGenerator
	now       func() time.Time
	tracer    trace.Tracer
	persister *persister

	mu       sync.Mutex
	byID     map[string]*domain.Session
	active   map[string]string
	creating map[string]struct{}
}

// New returns an empty store and starts its persister.
func New(cfg Config) *Store {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ids := cfg.IDs
	if ids == nil {
		ids = id.NewGenerator()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		images:    cfg.Images,
		sessions:  cfg.Sessions,
		log:       log,
		ids:       ids,
		now:       now,
		tracer:    platformotel.Tracer(tracerName),
		persister: newPersister(log, cfg.WriteTimeout),
		byID:      make(map[string]*domain.Session),
		active:    make(map[string]string),
		creating:  make(map[string]struct{}),
	}
}

// Close flushes queued durable writes.
func (s *Store) Close(ctx context.Context) error {
	return s.persister.close(ctx)
}

// Flush waits for queued durable writes to finish.
func (s *Store) Flush(ctx context.Context) error {
	return s.persister.flush(ctx)
}

// Create starts a session over up to requestedCount unprocessed images of
// checkpoint. It fails with SESSION_ALREADY_ACTIVE while another session on
// the checkpoint is active or being created.
func (s *Store) Create(ctx context.Context, checkpoint string, requestedCount int, deviceID string) (domain.Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.Create", trace.WithAttributes(
		attribute.String("checkpoint", checkpoint),
		attribute.Int("requested_count", requestedCount),
	))
	defer span.End()

	session, err := s.create(ctx, checkpoint, requestedCount, deviceID)
	if err != nil {
		recordError(span, err)
		return domain.Session{}, err
	}
	span.SetAttributes(attribute.String("session_id", session.ID), attribute.Int("total_images", session.Total()))
	return session, nil
}

func (s *Store) create(ctx context.Context, checkpoint string, requestedCount int, deviceID string) (domain.Session, error) {
	checkpoint, err := domain.NormalizeCheckpoint(checkpoint)
	if err != nil {
		return domain.Session{}, err
	}
	if requestedCount < 1 {
		return domain.Session{}, apperrors.New(apperrors.CodeInvalidArgument, "image_count must be at least 1")
	}
	if s.images == nil {
		return domain.Session{}, apperrors.New(apperrors.CodeUnavailable, "image repository is not configured")
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		deviceID = UnknownDevice
	}

	s.mu.Lock()
	if err := s.checkAvailableLocked(checkpoint); err != nil {
		s.mu.Unlock()
		return domain.Session{}, err
	}
	s.creating[checkpoint] = struct{}{}
	s.mu.Unlock()

	entries, err := s.images.FindUnprocessed(ctx, checkpoint, requestedCount)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creating, checkpoint)
	if err != nil {
		return domain.Session{}, apperrors.Wrap(apperrors.CodeUnavailable, "load unprocessed images", err)
	}
	if len(entries) == 0 {
		return domain.Session{}, domain.ErrNoImagesAvailable
	}
	if err := s.checkAvailableLocked(checkpoint); err != nil {
		return domain.Session{}, err
	}
	slices.SortStableFunc(entries, func(a, b domain.ImageQueueEntry) int {
		return cmp.Compare(a.SequenceOrder, b.SequenceOrder)
	})
	if len(entries) > requestedCount {
		entries = entries[:requestedCount]
	}

	session := &domain.Session{
		ID:         s.ids.SessionID(),
		Checkpoint: checkpoint,
		DeviceAID:  deviceID,
		Queue:      entries,
		Status:     domain.StatusActive,
		CreatedAt:  s.now().UTC(),
	}
	s.byID[session.ID] = session
	s.active[checkpoint] = session.ID

	record := storage.SessionRecord{
		ID:          session.ID,
		Checkpoint:  checkpoint,
		DeviceAID:   deviceID,
		TotalImages: len(entries),
		Status:      domain.StatusActive,
		CreatedAt:   session.CreatedAt,
	}
	s.persist("persist_created", session.ID, func(ctx context.Context) error {
		return s.sessions.PersistCreated(ctx, record)
	})

	s.log.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("checkpoint", checkpoint),
		zap.String("device_id", deviceID),
		zap.Int("total_images", len(entries)),
	)
	return snapshot(session), nil
}

func (s *Store) checkAvailableLocked(checkpoint string) error {
	if existing, ok := s.active[checkpoint]; ok {
		return apperrors.WithMetadata(apperrors.CodeSessionAlreadyActive, "checkpoint already has an active session", map[string]string{
			"session_id": existing,
		})
	}
	if _, ok := s.creating[checkpoint]; ok {
		return apperrors.New(apperrors.CodeSessionAlreadyActive, "a session is already being created for this checkpoint")
	}
	return nil
}

// Advance moves the session cursor forward by one image.
func (s *Store) Advance(ctx context.Context, sessionID string) (domain.AdvanceResult, error) {
	_, span := s.tracer.Start(ctx, "session.Advance", trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.activeLocked(sessionID)
	if err != nil {
		recordError(span, err)
		return domain.AdvanceResult{}, err
	}
	result := s.advanceLocked(session)
	span.SetAttributes(attribute.Int("new_index", result.NewIndex), attribute.Bool("completed", result.Completed))
	return result, nil
}

// Confirm advances the session only when imageID is the image at the cursor.
// It returns the session as it stands after the advance.
func (s *Store) Confirm(ctx context.Context, sessionID, imageID string) (domain.Session, domain.AdvanceResult, error) {
	_, span := s.tracer.Start(ctx, "session.Confirm", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("image_id", imageID),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.activeLocked(sessionID)
	if err != nil {
		recordError(span, err)
		return domain.Session{}, domain.AdvanceResult{}, err
	}
	current, _ := session.Current()
	if current.ImageID != imageID {
		err := apperrors.WithMetadata(apperrors.CodeImageOutOfOrder, "image is not the current image of the session", map[string]string{
			"expected_image_id": current.ImageID,
			"image_id":          imageID,
		})
		recordError(span, err)
		return domain.Session{}, domain.AdvanceResult{}, err
	}
	result := s.advanceLocked(session)
	span.SetAttributes(attribute.Int("new_index", result.NewIndex), attribute.Bool("completed", result.Completed))
	return snapshot(session), result, nil
}

func (s *Store) activeLocked(sessionID string) (*domain.Session, error) {
	session, ok := s.byID[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !session.Active() {
		return nil, domain.ErrSessionAlreadyCompleted
	}
	return session, nil
}

func (s *Store) advanceLocked(session *domain.Session) domain.AdvanceResult {
	session.CurrentIndex++
	sessionID := session.ID
	s.persist("increment_processed", sessionID, func(ctx context.Context) error {
		return s.sessions.IncrementProcessed(ctx, sessionID)
	})

	result := domain.AdvanceResult{NewIndex: session.CurrentIndex}
	if session.CurrentIndex >= len(session.Queue) {
		result.Completed = true
		s.completeLocked(session)
	}
	return result
}

// End completes an active session. Ending an already completed session is
// not an error; ended reports whether this call performed the transition.
func (s *Store) End(ctx context.Context, sessionID string) (session domain.Session, ended bool, err error) {
	_, span := s.tracer.Start(ctx, "session.End", trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[sessionID]
	if !ok {
		recordError(span, domain.ErrSessionNotFound)
		return domain.Session{}, false, domain.ErrSessionNotFound
	}
	if !current.Active() {
		return snapshot(current), false, nil
	}
	s.completeLocked(current)
	return snapshot(current), true, nil
}

func (s *Store) completeLocked(session *domain.Session) {
	session.Status = domain.StatusCompleted
	session.CompletedAt = s.now().UTC()
	if s.active[session.Checkpoint] == session.ID {
		delete(s.active, session.Checkpoint)
	}
	sessionID := session.ID
	completedAt := session.CompletedAt
	s.persist("mark_completed", sessionID, func(ctx context.Context) error {
		return s.sessions.MarkCompleted(ctx, sessionID, completedAt)
	})
	s.log.Info("session completed",
		zap.String("session_id", session.ID),
		zap.String("checkpoint", session.Checkpoint),
		zap.Int("current_index", session.CurrentIndex),
		zap.Int("total_images", len(session.Queue)),
	)
}

// Get returns a snapshot of a session.
func (s *Store) Get(sessionID string) (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byID[sessionID]
	if !ok {
		return domain.Session{}, false
	}
	return snapshot(session), true
}

// Active returns the active session of checkpoint.
func (s *Store) Active(checkpoint string) (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID, ok := s.active[checkpoint]
	if !ok {
		return domain.Session{}, false
	}
	return snapshot(s.byID[sessionID]), true
}

// Prune forgets completed sessions that finished before cutoff and returns
// how many were removed.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for sessionID, session := range s.byID {
		if session.Active() || !session.CompletedAt.Before(cutoff) {
			continue
		}
		delete(s.byID, sessionID)
		removed++
	}
	return removed
}

func (s *Store) persist(op, sessionID string, run func(context.Context) error) {
	if s.sessions == nil {
		return
	}
	s.persister.enqueue(write{op: op, sessionID: sessionID, run: run})
}

func snapshot(session *domain.Session) domain.Session {
	out := *session
	out.Queue = slices.Clone(session.Queue)
	return out
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
}
