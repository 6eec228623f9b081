package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/checkpointsync/internal/platform/errors"
	"github.com/louisbranch/checkpointsync/internal/platform/config"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/events"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/registry"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/session"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	sent   []events.Outbound
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event events.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection %s closed", c.id)
	}
	c.sent = append(c.sent, event)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// take returns and clears the events received so far.
func (c *fakeConn) take() []events.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.sent
	c.sent = nil
	return out
}

type fakeTimer struct {
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped
	t.stopped = true
	return active
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) afterFunc(_ time.Duration, fn func()) stopper {
	f.mu.Lock()
	defer f.mu.Unlock()
	timer := &fakeTimer{f: fn}
	f.timers = append(f.timers, timer)
	return timer
}

// fire runs the newest armed timer and reports whether one existed.
func (f *fakeTimers) fire() bool {
	f.mu.Lock()
	var armed *fakeTimer
	for i := len(f.timers) - 1; i >= 0; i-- {
		if !f.timers[i].stopped {
			armed = f.timers[i]
			break
		}
	}
	if armed != nil {
		armed.stopped = true
	}
	f.mu.Unlock()
	if armed == nil {
		return false
	}
	armed.f()
	return true
}

type fakeImages map[string][]domain.ImageQueueEntry

func (f fakeImages) FindUnprocessed(_ context.Context, checkpoint string, limit int) ([]domain.ImageQueueEntry, error) {
	entries := f[checkpoint]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return append([]domain.ImageQueueEntry(nil), entries...), nil
}

func images(checkpoint string, n int) []domain.ImageQueueEntry {
	out := make([]domain.ImageQueueEntry, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.ImageQueueEntry{
			ImageID:          fmt.Sprintf("img-%d", i),
			SequenceOrder:    int64(i),
			OriginalFilePath: fmt.Sprintf("original/%s/%d.jpg", checkpoint, i),
			ImageURL:         fmt.Sprintf("/uploads/original/%s/%d.jpg", checkpoint, i),
		})
	}
	return out
}

type harness struct {
	coord    *Coordinator
	registry *registry.Registry
	store    *session.Store
	timers   *fakeTimers
}

func newHarness(t *testing.T, cfg Config, source fakeImages) *harness {
	t.Helper()
	store := session.New(session.Config{Images: source})
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	reg := registry.New(nil)
	cfg.Registry = reg
	cfg.Sessions = store
	coord := New(cfg)
	timers := &fakeTimers{}
	coord.afterFunc = timers.afterFunc
	return &harness{coord: coord, registry: reg, store: store, timers: timers}
}

func (h *harness) handle(t *testing.T, conn registry.Conn, event events.Inbound) error {
	t.Helper()
	if err := event.Validate(); err != nil {
		t.Fatalf("invalid test event %T: %v", event, err)
	}
	return h.coord.Handle(context.Background(), conn, "req", event)
}

func (h *harness) pair(t *testing.T, checkpoint string) (display, camera *fakeConn) {
	t.Helper()
	display = newFakeConn("display-" + checkpoint)
	camera = newFakeConn("camera-" + checkpoint)
	if err := h.handle(t, display, &events.RegisterDisplay{DeviceID: "dev-a", CheckpointName: checkpoint}); err != nil {
		t.Fatalf("register display: %v", err)
	}
	if err := h.handle(t, camera, &events.RegisterCamera{DeviceID: "dev-b", CheckpointName: checkpoint}); err != nil {
		t.Fatalf("register camera: %v", err)
	}
	return display, camera
}

func only[T events.Outbound](t *testing.T, got []events.Outbound) T {
	t.Helper()
	if len(got) != 1 {
		t.Fatalf("events = %#v, want exactly one", got)
	}
	event, ok := got[0].(T)
	if !ok {
		t.Fatalf("event = %#v, want %T", got[0], event)
	}
	return event
}

func TestDisplayDrivenScenario(t *testing.T) {
	h := newHarness(t, Config{}, fakeImages{"air_filter": images("air_filter", 3)})
	ctx := context.Background()

	display, camera := h.pair(t, "air_filter")
	ready := only[events.CameraReady](t, display.take())
	if ready.DeviceID != "dev-b" {
		t.Fatalf("camera ready = %+v", ready)
	}
	connected := only[events.DisplayConnected](t, camera.take())
	if connected.DeviceID != "dev-a" {
		t.Fatalf("display connected = %+v", connected)
	}

	sess, err := h.store.Create(ctx, "air_filter", 3, "dev-a")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	h.coord.SessionStarted(sess)
	if got := camera.take(); len(got) != 0 {
		t.Fatalf("display mode should not push on start, got %#v", got)
	}

	for i, entry := range sess.Queue {
		if err := h.handle(t, display, &events.DisplayNextImage{
			SessionID:      sess.ID,
			CurrentImageID: entry.ImageID,
			CheckpointName: "air_filter",
			ImageURL:       entry.ImageURL,
		}); err != nil {
			t.Fatalf("display_next_image %d: %v", i, err)
		}
		shown := only[events.DisplayImage](t, camera.take())
		if shown.ImageID != entry.ImageID || shown.ImageURL != entry.ImageURL || shown.SessionID != sess.ID {
			t.Fatalf("display image = %+v", shown)
		}
		if shown.TargetFilename != fmt.Sprintf("%d.jpg", i+1) {
			t.Fatalf("target filename = %q", shown.TargetFilename)
		}

		result, err := h.coord.ConfirmCapture(ctx, Capture{
			SessionID:       sess.ID,
			ImageID:         entry.ImageID,
			Checkpoint:      "air_filter",
			SpoofedFilePath: "spoofed/air_filter/" + shown.TargetFilename,
		})
		if err != nil {
			t.Fatalf("confirm %d: %v", i, err)
		}
		confirmed := only[events.CaptureConfirmed](t, display.take())
		if confirmed.ImageID != entry.ImageID || confirmed.NextIndex != i+1 {
			t.Fatalf("capture confirmed = %+v", confirmed)
		}
		wantCompleted := i == len(sess.Queue)-1
		if result.Completed != wantCompleted || confirmed.Completed != wantCompleted {
			t.Fatalf("completed = %v / %v, want %v", result.Completed, confirmed.Completed, wantCompleted)
		}
	}

	if err := h.handle(t, display, &events.SessionComplete{SessionID: sess.ID, CheckpointName: "air_filter"}); err != nil {
		t.Fatalf("session_complete: %v", err)
	}
	ended := only[events.SessionEnded](t, camera.take())
	if ended.Message != SessionEndedMessage || ended.SessionID != sess.ID {
		t.Fatalf("session ended = %+v", ended)
	}
}

func TestOutOfOrderRegistration(t *testing.T) {
	h := newHarness(t, Config{}, fakeImages{})
	camera := newFakeConn("camera")
	display := newFakeConn("display")

	if err := h.handle(t, camera, &events.RegisterCamera{DeviceID: "dev-b", CheckpointName: "cp"}); err != nil {
		t.Fatalf("register camera: %v", err)
	}
	if got := camera.take(); len(got) != 0 {
		t.Fatalf("camera alone should get nothing, got %#v", got)
	}
	if err := h.handle(t, display, &events.RegisterDisplay{DeviceID: "dev-a", CheckpointName: "cp"}); err != nil {
		t.Fatalf("register display: %v", err)
	}
	only[events.CameraReady](t, display.take())
	only[events.DisplayConnected](t, camera.take())
}

func TestDisplayNextImageRejections(t *testing.T) {
	h := newHarness(t, Config{}, fakeImages{"cp": images("cp", 2), "other": images("other", 1)})
	ctx := context.Background()
	sess, err := h.store.Create(ctx, "cp", 2, "dev-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	otherSess, err := h.store.Create(ctx, "other", 1, "dev-a")
	if err != nil {
		t.Fatalf("create other: %v", err)
	}

	stranger := newFakeConn("stranger")
	err = h.handle(t, stranger, &events.DisplayNextImage{SessionID: sess.ID, CurrentImageID: "img-1", CheckpointName: "cp"})
	if apperrors.CodeOf(err) != apperrors.CodeNotRegistered {
		t.Fatalf("unregistered err = %v", err)
	}
	rejected := only[events.Error](t, stranger.take())
	if rejected.Code != string(apperrors.CodeNotRegistered) || rejected.RequestID != "req" {
		t.Fatalf("error event = %+v", rejected)
	}

	display := newFakeConn("display")
	if err := h.handle(t, display, &events.RegisterDisplay{DeviceID: "dev-a", CheckpointName: "cp"}); err != nil {
		t.Fatalf("register display: %v", err)
	}

	tests := []struct {
		name  string
		event *events.DisplayNextImage
		code  apperrors.Code
	}{
		{
			name:  "no camera",
			event: &events.DisplayNextImage{SessionID: sess.ID, CurrentImageID: "img-1", CheckpointName: "cp"},
			code:  apperrors.CodeCounterpartAbsent,
		},
		{
			name:  "wrong image",
			event: &events.DisplayNextImage{SessionID: sess.ID, CurrentImageID: "img-2", CheckpointName: "cp"},
			code:  apperrors.CodeImageOutOfOrder,
		},
		{
			name:  "unknown session",
			event: &events.DisplayNextImage{SessionID: "missing", CurrentImageID: "img-1", CheckpointName: "cp"},
			code:  apperrors.CodeSessionNotFound,
		},
		{
			name:  "session of another checkpoint",
			event: &events.DisplayNextImage{SessionID: otherSess.ID, CurrentImageID: "img-1", CheckpointName: "cp"},
			code:  apperrors.CodeCheckpointMismatch,
		},
		{
			name:  "display bound elsewhere",
			event: &events.DisplayNextImage{SessionID: otherSess.ID, CurrentImageID: "img-1", CheckpointName: "other"},
			code:  apperrors.CodeCheckpointMismatch,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			display.take()
			err := h.handle(t, display, tc.event)
			if apperrors.CodeOf(err) != tc.code {
				t.Fatalf("err = %v, want %s", err, tc.code)
			}
			only[events.Error](t, display.take())
		})
	}
}

func TestCameraDisconnectKeepsSession(t *testing.T) {
	h := newHarness(t, Config{CaptureTimeout: time.Minute}, fakeImages{"cp": images("cp", 2)})
	ctx := context.Background()
	display, camera := h.pair(t, "cp")
	display.take()
	camera.take()

	sess, err := h.store.Create(ctx, "cp", 2, "dev-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.handle(t, display, &events.DisplayNextImage{SessionID: sess.ID, CurrentImageID: "img-1", CheckpointName: "cp"}); err != nil {
		t.Fatalf("display_next_image: %v", err)
	}
	camera.take()

	h.coord.Disconnect(camera)
	disconnected := only[events.CameraDisconnected](t, display.take())
	if disconnected.CheckpointName != "cp" {
		t.Fatalf("disconnected = %+v", disconnected)
	}
	got, _ := h.store.Get(sess.ID)
	if got.CurrentIndex != 0 || !got.Active() {
		t.Fatalf("session mutated by disconnect: %+v", got)
	}
	if h.timers.fire() {
		t.Fatal("capture timer should be cancelled when the camera leaves")
	}
}

func TestCaptureTimeoutRetriesThenGivesUp(t *testing.T) {
	h := newHarness(t, Config{CaptureTimeout: time.Minute, MaxCaptureRetries: 2}, fakeImages{"cp": images("cp", 1)})
	display, camera := h.pair(t, "cp")
	display.take()
	camera.take()

	sess, err := h.store.Create(context.Background(), "cp", 1, "dev-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.handle(t, display, &events.DisplayNextImage{SessionID: sess.ID, CurrentImageID: "img-1", CheckpointName: "cp"}); err != nil {
		t.Fatalf("display_next_image: %v", err)
	}
	if first := only[events.DisplayImage](t, camera.take()); first.Attempt != 1 {
		t.Fatalf("first attempt = %d", first.Attempt)
	}

	for attempt := 2; attempt <= 3; attempt++ {
		if !h.timers.fire() {
			t.Fatalf("no timer armed before attempt %d", attempt)
		}
		retry := only[events.DisplayImage](t, camera.take())
		if retry.Attempt != attempt || retry.ImageID != "img-1" {
			t.Fatalf("retry = %+v, want attempt %d", retry, attempt)
		}
		if got := display.take(); len(got) != 0 {
			t.Fatalf("display notified early: %#v", got)
		}
	}

	if !h.timers.fire() {
		t.Fatal("no timer armed before giving up")
	}
	timeout := only[events.CaptureTimeout](t, display.take())
	if timeout.ImageID != "img-1" || timeout.Attempts != 3 || timeout.SessionID != sess.ID {
		t.Fatalf("capture timeout = %+v", timeout)
	}
	if h.timers.fire() {
		t.Fatal("timer still armed after giving up")
	}
}

func TestCameraMovingCheckpointsCancelsTimer(t *testing.T) {
	h := newHarness(t, Config{CaptureTimeout: time.Minute}, fakeImages{"cp": images("cp", 1)})
	display, camera := h.pair(t, "cp")
	display.take()
	camera.take()

	sess, err := h.store.Create(context.Background(), "cp", 1, "dev-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.handle(t, display, &events.DisplayNextImage{SessionID: sess.ID, CurrentImageID: "img-1", CheckpointName: "cp"}); err != nil {
		t.Fatalf("display_next_image: %v", err)
	}
	camera.take()

	if err := h.handle(t, camera, &events.RegisterCamera{DeviceID: "dev-b", CheckpointName: "other"}); err != nil {
		t.Fatalf("re-register camera: %v", err)
	}
	disconnected := only[events.CameraDisconnected](t, display.take())
	if disconnected.CheckpointName != "cp" {
		t.Fatalf("disconnected = %+v", disconnected)
	}
	if h.timers.fire() {
		t.Fatal("capture timer should be cancelled when the camera moves away")
	}
	if got := display.take(); len(got) != 0 {
		t.Fatalf("display got %#v after its camera left", got)
	}
}

func TestRepeatedDisplayRequestResetsRetries(t *testing.T) {
	h := newHarness(t, Config{CaptureTimeout: time.Minute, MaxCaptureRetries: 2}, fakeImages{"cp": images("cp", 1)})
	display, camera := h.pair(t, "cp")
	display.take()
	camera.take()

	sess, err := h.store.Create(context.Background(), "cp", 1, "dev-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	next := &events.DisplayNextImage{SessionID: sess.ID, CurrentImageID: "img-1", CheckpointName: "cp"}
	for i := 0; i < 3; i++ {
		if err := h.handle(t, display, next); err != nil {
			t.Fatalf("display_next_image %d: %v", i, err)
		}
		if shown := only[events.DisplayImage](t, camera.take()); shown.Attempt != 1 {
			t.Fatalf("request %d attempt = %d, want 1", i, shown.Attempt)
		}
	}

	if !h.timers.fire() {
		t.Fatal("no timer armed")
	}
	retry := only[events.DisplayImage](t, camera.take())
	if retry.Attempt != 2 {
		t.Fatalf("retry = %+v, want attempt 2", retry)
	}
	if got := display.take(); len(got) != 0 {
		t.Fatalf("display notified early: %#v", got)
	}
}

func TestConfirmCancelsTimer(t *testing.T) {
	h := newHarness(t, Config{CaptureTimeout: time.Minute}, fakeImages{"cp": images("cp", 2)})
	ctx := context.Background()
	display, camera := h.pair(t, "cp")
	sess, err := h.store.Create(ctx, "cp", 2, "dev-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.handle(t, display, &events.DisplayNextImage{SessionID: sess.ID, CurrentImageID: "img-1", CheckpointName: "cp"}); err != nil {
		t.Fatalf("display_next_image: %v", err)
	}
	if _, err := h.coord.ConfirmCapture(ctx, Capture{SessionID: sess.ID, ImageID: "img-1", Checkpoint: "cp"}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	camera.take()
	if h.timers.fire() {
		t.Fatal("timer should be cancelled by the confirmation")
	}
	if got := camera.take(); len(got) != 0 {
		t.Fatalf("camera got %#v", got)
	}
}

func TestConfirmCaptureErrors(t *testing.T) {
	h := newHarness(t, Config{}, fakeImages{"cp": images("cp", 2)})
	ctx := context.Background()
	sess, err := h.store.Create(ctx, "cp", 2, "dev-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := h.coord.ConfirmCapture(ctx, Capture{SessionID: sess.ID, ImageID: "img-2", Checkpoint: "cp"}); apperrors.CodeOf(err) != apperrors.CodeImageOutOfOrder {
		t.Fatalf("out of order err = %v", err)
	}
	if _, err := h.coord.ConfirmCapture(ctx, Capture{SessionID: sess.ID, ImageID: "img-1", Checkpoint: "elsewhere"}); apperrors.CodeOf(err) != apperrors.CodeCheckpointMismatch {
		t.Fatalf("mismatch err = %v", err)
	}
	if _, err := h.coord.ConfirmCapture(ctx, Capture{SessionID: "nope", ImageID: "img-1", Checkpoint: "cp"}); apperrors.CodeOf(err) != apperrors.CodeSessionNotFound {
		t.Fatalf("missing err = %v", err)
	}
}

func TestServerPushMode(t *testing.T) {
	h := newHarness(t, Config{PushMode: PushServer}, fakeImages{"cp": images("cp", 2)})
	ctx := context.Background()
	display, camera := h.pair(t, "cp")
	display.take()
	camera.take()

	sess, err := h.store.Create(ctx, "cp", 2, "dev-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.coord.SessionStarted(sess)
	if first := only[events.DisplayImage](t, camera.take()); first.ImageID != "img-1" {
		t.Fatalf("first push = %+v", first)
	}

	if _, err := h.coord.ConfirmCapture(ctx, Capture{SessionID: sess.ID, ImageID: "img-1", Checkpoint: "cp"}); err != nil {
		t.Fatalf("confirm 1: %v", err)
	}
	only[events.CaptureConfirmed](t, display.take())
	if next := only[events.DisplayImage](t, camera.take()); next.ImageID != "img-2" {
		t.Fatalf("second push = %+v", next)
	}

	if _, err := h.coord.ConfirmCapture(ctx, Capture{SessionID: sess.ID, ImageID: "img-2", Checkpoint: "cp"}); err != nil {
		t.Fatalf("confirm 2: %v", err)
	}
	if confirmed := only[events.CaptureConfirmed](t, display.take()); !confirmed.Completed {
		t.Fatalf("final confirmation = %+v", confirmed)
	}
	only[events.SessionEnded](t, camera.take())
}

func TestServerPushResumesOnCameraReconnect(t *testing.T) {
	h := newHarness(t, Config{PushMode: PushServer}, fakeImages{"cp": images("cp", 2)})
	display := newFakeConn("display")
	if err := h.handle(t, display, &events.RegisterDisplay{DeviceID: "dev-a", CheckpointName: "cp"}); err != nil {
		t.Fatalf("register display: %v", err)
	}
	sess, err := h.store.Create(context.Background(), "cp", 2, "dev-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.coord.SessionStarted(sess)

	camera := newFakeConn("camera")
	if err := h.handle(t, camera, &events.RegisterCamera{DeviceID: "dev-b", CheckpointName: "cp"}); err != nil {
		t.Fatalf("register camera: %v", err)
	}
	got := camera.take()
	if len(got) != 2 {
		t.Fatalf("camera events = %#v", got)
	}
	if _, ok := got[0].(events.DisplayConnected); !ok {
		t.Fatalf("first event = %#v", got[0])
	}
	if shown, ok := got[1].(events.DisplayImage); !ok || shown.ImageID != "img-1" {
		t.Fatalf("second event = %#v", got[1])
	}
}

func TestSessionCompleteRequiresDisplay(t *testing.T) {
	h := newHarness(t, Config{}, fakeImages{"cp": images("cp", 1)})
	sess, err := h.store.Create(context.Background(), "cp", 1, "dev-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, camera := h.pair(t, "cp")
	err = h.handle(t, camera, &events.SessionComplete{SessionID: sess.ID, CheckpointName: "cp"})
	if apperrors.CodeOf(err) != apperrors.CodeNotRegistered {
		t.Fatalf("err = %v", err)
	}
	if got, _ := h.store.Get(sess.ID); !got.Active() {
		t.Fatal("camera must not end the session")
	}
}

func TestAllowlistRejectsUnknownCheckpoint(t *testing.T) {
	h := newHarness(t, Config{Checkpoints: config.NewCheckpointAllowList("air_filter")}, fakeImages{})
	conn := newFakeConn("display")
	err := h.handle(t, conn, &events.RegisterDisplay{DeviceID: "d", CheckpointName: "boiler"})
	if apperrors.CodeOf(err) != apperrors.CodeUnknownCheckpoint {
		t.Fatalf("err = %v", err)
	}
	if _, ok := h.registry.Lookup("boiler", domain.RoleDisplay); ok {
		t.Fatal("unknown checkpoint was registered")
	}
	if err := h.handle(t, conn, &events.RegisterDisplay{DeviceID: "d", CheckpointName: "air_filter"}); err != nil {
		t.Fatalf("allowed checkpoint: %v", err)
	}
}

func TestShutdownNotifiesAndCloses(t *testing.T) {
	h := newHarness(t, Config{}, fakeImages{})
	display, camera := h.pair(t, "cp")
	display.take()
	camera.take()

	if err := h.coord.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	for _, conn := range []*fakeConn{display, camera} {
		notice := only[events.ServerShutdown](t, conn.take())
		if notice.CheckpointName != "cp" || notice.Message != ServerShutdownMessage {
			t.Fatalf("notice = %+v", notice)
		}
		if !conn.isClosed() {
			t.Fatalf("%s not closed", conn.id)
		}
	}

	late := newFakeConn("late")
	err := h.handle(t, late, &events.RegisterCamera{DeviceID: "x", CheckpointName: "cp"})
	if apperrors.CodeOf(err) != apperrors.CodeUnavailable {
		t.Fatalf("post-shutdown err = %v", err)
	}
}

func TestParsePushMode(t *testing.T) {
	for raw, want := range map[string]PushMode{"": PushDisplay, "display": PushDisplay, " Server ": PushServer} {
		got, err := ParsePushMode(raw)
		if err != nil || got != want {
			t.Fatalf("ParsePushMode(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParsePushMode("camera"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
