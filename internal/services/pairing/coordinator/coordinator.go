// Package coordinator routes device events between the display and camera of
// each checkpoint and drives the capture protocol.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/checkpointsync/internal/platform/errors"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/events"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/registry"
	"go.uber.org/zap"
)

// Messages carried by outbound events.
const (
	SessionEndedMessage   = "Session completed"
	ServerShutdownMessage = "Server shutting down"
)

// DefaultMaxCaptureRetries is how many times an unconfirmed image is
// re-sent before the display is told the capture timed out.
const DefaultMaxCaptureRetries = 2

// PushMode selects who decides when the next image is shown.
type PushMode string

const (
	// PushDisplay waits for the display to request every image.
	PushDisplay PushMode = "display"
	// PushServer sends the next image as soon as a capture is confirmed.
	PushServer PushMode = "server"
)

// ParsePushMode validates a configured push mode. Empty selects PushDisplay.
func ParsePushMode(raw string) (PushMode, error) {
	switch mode := PushMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "", PushDisplay:
		return PushDisplay, nil
	case PushServer:
		return PushServer, nil
	default:
		return "", fmt.Errorf("unknown push mode %q", raw)
	}
}

// Sessions is the session store surface the coordinator drives.
type Sessions interface {
	Get(sessionID string) (domain.Session, bool)
	Active(checkpoint string) (domain.Session, bool)
	Confirm(ctx context.Context, sessionID, imageID string) (domain.Session, domain.AdvanceResult, error)
	End(ctx context.Context, sessionID string) (domain.Session, bool, error)
}

// Allowlist restricts which checkpoints may be used.
type Allowlist interface {
	Allows(checkpoint string) bool
}

// Capture is a stored camera capture reported by the upload handler.
type Capture struct {
	SessionID       string
	ImageID         string
	Checkpoint      string
	SpoofedFilePath string
}

type stopper interface {
	Stop() bool
}

// Config wires a Coordinator.
type Config struct {
	Registry          *registry.Registry
	Sessions          Sessions
	Logger            *zap.Logger
	PushMode          PushMode
	CaptureTimeout    time.Duration
	MaxCaptureRetries int
	// Checkpoints, when set, rejects events for checkpoints it does not allow.
	Checkpoints Allowlist
	Now         func() time.Time
}

// Coordinator is the pairing protocol state machine. State is partitioned
// by checkpoint; a failure handling one event never affects another
// checkpoint.
type Coordinator struct {
	registry   *registry.Registry
	sessions   Sessions
	log        *zap.Logger
	mode       PushMode
	timeout    time.Duration
	maxRetries int
	allow      Allowlist
	now        func() time.Time
	afterFunc  func(time.Duration, func()) stopper

	mu         sync.Mutex
	inflight   map[string]*inflightCapture
	generation uint64
	closed     bool
}

// inflightCapture is the image a checkpoint's camera is expected to capture.
type inflightCapture struct {
	event      events.DisplayImage
	attempts   int
	generation uint64
	timer      stopper
}

// New builds a coordinator.
func New(cfg Config) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	mode := cfg.PushMode
	if mode == "" {
		mode = PushDisplay
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	retries := cfg.MaxCaptureRetries
	if retries < 0 {
		retries = 0
	}
	return &Coordinator{
		registry:   cfg.Registry,
		sessions:   cfg.Sessions,
		log:        log,
		mode:       mode,
		timeout:    cfg.CaptureTimeout,
		maxRetries: retries,
		allow:      cfg.Checkpoints,
		now:        now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		inflight: make(map[string]*inflightCapture),
	}
}

// Handle processes one validated inbound event from conn. Rejections are
// reported to conn as error events and returned.
func (c *Coordinator) Handle(ctx context.Context, conn registry.Conn, requestID string, event events.Inbound) error {
	err := c.handle(ctx, conn, event)
	if err != nil {
		c.reject(conn, requestID, event.EventType(), err)
	}
	return err
}

func (c *Coordinator) handle(ctx context.Context, conn registry.Conn, event events.Inbound) error {
	if c.isClosed() {
		return apperrors.New(apperrors.CodeUnavailable, "server is shutting down")
	}
	if c.allow != nil && !c.allow.Allows(event.Checkpoint()) {
		return apperrors.WithMetadata(apperrors.CodeUnknownCheckpoint, "unknown checkpoint", map[string]string{
			"checkpoint_name": event.Checkpoint(),
		})
	}

	switch e := event.(type) {
	case *events.RegisterDisplay:
		c.register(ctx, conn, domain.RoleDisplay, e.DeviceID, e.CheckpointName)
		return nil
	case *events.RegisterCamera:
		c.register(ctx, conn, domain.RoleCamera, e.DeviceID, e.CheckpointName)
		return nil
	case *events.DisplayNextImage:
		return c.displayNextImage(conn, e)
	case *events.SessionComplete:
		return c.sessionComplete(ctx, conn, e)
	default:
		return apperrors.New(apperrors.CodeUnsupportedEvent, "unsupported event")
	}
}

// reject reports err to conn. Send failures are only logged.
func (c *Coordinator) reject(conn registry.Conn, requestID string, eventType events.Type, err error) {
	code := apperrors.CodeOf(err)
	fields := []zap.Field{
		zap.String("conn_id", conn.ID()),
		zap.String("event", string(eventType)),
		zap.String("code", string(code)),
		zap.Error(err),
	}
	if code == apperrors.CodeUnknown {
		c.log.Error("event failed", fields...)
	} else {
		c.log.Info("event rejected", fields...)
	}
	if sendErr := conn.Send(events.NewError(requestID, err)); sendErr != nil {
		c.log.Debug("send error event failed", zap.String("conn_id", conn.ID()), zap.Error(sendErr))
	}
}

func (c *Coordinator) register(_ context.Context, conn registry.Conn, role domain.Role, deviceID, checkpoint string) {
	previous, wasBound := c.registry.BindingOf(conn)
	counterpart, ok := c.registry.Register(checkpoint, role, deviceID, conn)
	if wasBound && previous.Role == domain.RoleCamera && (previous.Checkpoint != checkpoint || role != domain.RoleCamera) {
		// The old checkpoint lost its camera.
		c.disarm(previous.Checkpoint, "")
	}
	c.log.Info("device registered",
		zap.String("checkpoint", checkpoint),
		zap.String("role", string(role)),
		zap.String("device_id", deviceID),
		zap.String("conn_id", conn.ID()),
		zap.Bool("counterpart_present", ok),
	)
	if ok {
		var notice events.Outbound
		if role == domain.RoleDisplay {
			notice = events.CameraReady{DeviceID: counterpart.DeviceID, CheckpointName: checkpoint, Message: registry.CameraReadyMessage}
		} else {
			notice = events.DisplayConnected{DeviceID: counterpart.DeviceID, CheckpointName: checkpoint}
		}
		c.send(registry.Binding{Checkpoint: checkpoint, Role: role, Conn: conn}, notice)
	}

	if role == domain.RoleCamera && c.mode == PushServer {
		if session, ok := c.sessions.Active(checkpoint); ok {
			c.pushCurrent(session)
		}
	}
}

func (c *Coordinator) displayNextImage(conn registry.Conn, e *events.DisplayNextImage) error {
	if _, err := c.requireDisplay(conn, e.CheckpointName); err != nil {
		return err
	}
	session, err := c.sessionFor(e.SessionID, e.CheckpointName)
	if err != nil {
		return err
	}
	if !session.Active() {
		return domain.ErrSessionAlreadyCompleted
	}
	current, ok := session.Current()
	if !ok || current.ImageID != e.CurrentImageID {
		return apperrors.WithMetadata(apperrors.CodeImageOutOfOrder, "image is not the current image of the session", map[string]string{
			"expected_image_id": current.ImageID,
			"image_id":          e.CurrentImageID,
		})
	}
	camera, ok := c.registry.Lookup(e.CheckpointName, domain.RoleCamera)
	if !ok {
		return apperrors.New(apperrors.CodeCounterpartAbsent, "camera is not connected")
	}

	event := displayImageFor(session, current)
	c.arm(event)
	c.send(camera, event)
	return nil
}

func (c *Coordinator) sessionComplete(ctx context.Context, conn registry.Conn, e *events.SessionComplete) error {
	if _, err := c.requireDisplay(conn, e.CheckpointName); err != nil {
		return err
	}
	if _, err := c.sessionFor(e.SessionID, e.CheckpointName); err != nil {
		return err
	}
	session, ended, err := c.sessions.End(ctx, e.SessionID)
	if err != nil {
		return err
	}
	c.disarm(e.CheckpointName, "")
	c.log.Info("session ended by display",
		zap.String("checkpoint", e.CheckpointName),
		zap.String("session_id", e.SessionID),
		zap.Bool("transitioned", ended),
		zap.Int("current_index", session.CurrentIndex),
	)
	c.endSession(session)
	return nil
}

// SessionStarted pushes the first image in server mode. Display mode leaves
// the first request to the display.
func (c *Coordinator) SessionStarted(session domain.Session) {
	if c.mode != PushServer || c.isClosed() {
		return
	}
	c.pushCurrent(session)
}

// ConfirmCapture advances the session for a stored capture and tells the
// display. In server mode the next image is pushed to the camera.
func (c *Coordinator) ConfirmCapture(ctx context.Context, capture Capture) (domain.AdvanceResult, error) {
	if _, err := c.sessionFor(capture.SessionID, capture.Checkpoint); err != nil {
		return domain.AdvanceResult{}, err
	}
	session, result, err := c.sessions.Confirm(ctx, capture.SessionID, capture.ImageID)
	if err != nil {
		return domain.AdvanceResult{}, err
	}
	c.disarm(session.Checkpoint, capture.ImageID)

	c.log.Info("capture confirmed",
		zap.String("checkpoint", session.Checkpoint),
		zap.String("session_id", session.ID),
		zap.String("image_id", capture.ImageID),
		zap.Int("next_index", result.NewIndex),
		zap.Bool("completed", result.Completed),
	)
	if display, ok := c.registry.Lookup(session.Checkpoint, domain.RoleDisplay); ok {
		c.send(display, events.CaptureConfirmed{
			ImageID:         capture.ImageID,
			CheckpointName:  session.Checkpoint,
			SpoofedFilePath: capture.SpoofedFilePath,
			Timestamp:       c.now().UTC(),
			SessionID:       session.ID,
			NextIndex:       result.NewIndex,
			Completed:       result.Completed,
		})
	}

	if c.mode == PushServer {
		if result.Completed {
			c.endSession(session)
		} else {
			c.pushCurrent(session)
		}
	}
	return result, nil
}

// Disconnect releases conn's binding. Losing the camera cancels the pending
// capture timer; session state is left untouched.
func (c *Coordinator) Disconnect(conn registry.Conn) {
	binding, ok := c.registry.UnregisterByConnection(conn)
	if !ok {
		return
	}
	c.log.Info("device disconnected",
		zap.String("checkpoint", binding.Checkpoint),
		zap.String("role", string(binding.Role)),
		zap.String("device_id", binding.DeviceID),
		zap.String("conn_id", conn.ID()),
	)
	if binding.Role == domain.RoleCamera {
		c.disarm(binding.Checkpoint, "")
	}
}

// Shutdown stops every capture timer, tells every bound device the server is
// going away, and closes their connections.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	for checkpoint, pending := range c.inflight {
		pending.timer.Stop()
		delete(c.inflight, checkpoint)
	}
	c.mu.Unlock()

	for _, binding := range c.registry.Bindings() {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.send(binding, events.ServerShutdown{CheckpointName: binding.Checkpoint, Message: ServerShutdownMessage})
		if err := binding.Conn.Close(); err != nil {
			c.log.Debug("close connection failed", zap.String("conn_id", binding.Conn.ID()), zap.Error(err))
		}
	}
	return nil
}

func (c *Coordinator) requireDisplay(conn registry.Conn, checkpoint string) (registry.Binding, error) {
	binding, ok := c.registry.BindingOf(conn)
	if !ok || binding.Role != domain.RoleDisplay {
		return registry.Binding{}, apperrors.New(apperrors.CodeNotRegistered, "connection is not registered as a display")
	}
	if binding.Checkpoint != checkpoint {
		return registry.Binding{}, apperrors.New(apperrors.CodeCheckpointMismatch, "connection is registered to a different checkpoint")
	}
	return binding, nil
}

func (c *Coordinator) sessionFor(sessionID, checkpoint string) (domain.Session, error) {
	session, ok := c.sessions.Get(sessionID)
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if session.Checkpoint != checkpoint {
		return domain.Session{}, domain.ErrCheckpointMismatch
	}
	return session, nil
}

func (c *Coordinator) pushCurrent(session domain.Session) {
	current, ok := session.Current()
	if !ok {
		return
	}
	camera, ok := c.registry.Lookup(session.Checkpoint, domain.RoleCamera)
	if !ok {
		return
	}
	event := displayImageFor(session, current)
	c.arm(event)
	c.send(camera, event)
}

func (c *Coordinator) endSession(session domain.Session) {
	camera, ok := c.registry.Lookup(session.Checkpoint, domain.RoleCamera)
	if !ok {
		return
	}
	c.send(camera, events.SessionEnded{
		CheckpointName: session.Checkpoint,
		SessionID:      session.ID,
		Message:        SessionEndedMessage,
	})
}

func (c *Coordinator) send(to registry.Binding, event events.Outbound) {
	if err := to.Conn.Send(event); err != nil {
		c.log.Warn("send event failed",
			zap.String("checkpoint", to.Checkpoint),
			zap.String("role", string(to.Role)),
			zap.String("conn_id", to.Conn.ID()),
			zap.String("event", string(event.EventType())),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func displayImageFor(session domain.Session, entry domain.ImageQueueEntry) events.DisplayImage {
	return events.DisplayImage{
		ImageID:        entry.ImageID,
		CheckpointName: session.Checkpoint,
		ImageURL:       entry.ImageURL,
		SessionID:      session.ID,
		TargetFilename: entry.TargetFilename(),
		Attempt:        1,
	}
}
