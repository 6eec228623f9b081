package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	apperrors "github.com/louisbranch/checkpointsync/internal/platform/errors"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/coordinator"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/events"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/registry"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/session"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

type noImages struct{}

func (noImages) FindUnprocessed(context.Context, string, int) ([]domain.ImageQueueEntry, error) {
	return nil, nil
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *registry.Registry) {
	t.Helper()
	srv, _, reg := newTestTransport(t, opts)
	return srv, reg
}

func newTestTransport(t *testing.T, opts Options) (*httptest.Server, *Server, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil)
	store := session.New(session.Config{Images: noImages{}})
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	coord := coordinator.New(coordinator.Config{Registry: reg, Sessions: store})

	devices := NewServer(coord, opts)
	mux := http.NewServeMux()
	mux.Handle("/ws", devices)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, devices, reg
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func writeRaw(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := websocket.Message.Send(conn, raw); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

func writeEvent(t *testing.T, conn *websocket.Conn, event events.Inbound) {
	t.Helper()
	data, err := events.EncodeInbound("req-1", event)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	writeRaw(t, conn, string(data))
}

func readFrame(t *testing.T, conn *websocket.Conn) events.Frame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var raw string
	if err := websocket.Message.Receive(conn, &raw); err != nil {
		t.Fatalf("receive server frame: %v", err)
	}
	frame, err := events.DecodeFrame([]byte(raw))
	if err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return frame
}

func readError(t *testing.T, conn *websocket.Conn) events.Error {
	t.Helper()
	frame := readFrame(t, conn)
	if frame.Type != events.TypeError {
		t.Fatalf("frame type = %q, want %q", frame.Type, events.TypeError)
	}
	var payload events.Error
	if err := sonic.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return payload
}

func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var raw string
	if err := websocket.Message.Receive(conn, &raw); err == nil {
		t.Fatalf("expected closed connection, got frame %s", raw)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketPairingNotifiesDisplay(t *testing.T) {
	srv, reg := newTestServer(t, Options{})
	display := dialWS(t, srv)
	camera := dialWS(t, srv)

	writeEvent(t, display, &events.RegisterDisplay{DeviceID: "dev-a", CheckpointName: "air_filter"})
	waitFor(t, func() bool {
		_, ok := reg.Lookup("air_filter", domain.RoleDisplay)
		return ok
	})
	writeEvent(t, camera, &events.RegisterCamera{DeviceID: "dev-b", CheckpointName: "air_filter"})

	got := readFrame(t, display)
	if got.Type != events.TypeCameraReady {
		t.Fatalf("frame type = %q, want %q", got.Type, events.TypeCameraReady)
	}
	var ready events.CameraReady
	if err := sonic.Unmarshal(got.Payload, &ready); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ready.DeviceID != "dev-b" || ready.CheckpointName != "air_filter" {
		t.Fatalf("camera ready = %+v", ready)
	}
	if frame := readFrame(t, camera); frame.Type != events.TypeDisplayConnected {
		t.Fatalf("camera frame type = %q", frame.Type)
	}

	_ = camera.Close()
	if frame := readFrame(t, display); frame.Type != events.TypeCameraDisconnected {
		t.Fatalf("frame type after camera close = %q", frame.Type)
	}
}

func TestWebSocketUnknownTypeReturnsError(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	conn := dialWS(t, srv)

	writeRaw(t, conn, `{"type":"explode","request_id":"req-bad-1","payload":{}}`)

	got := readError(t, conn)
	if got.Code != string(apperrors.CodeUnsupportedEvent) {
		t.Fatalf("code = %q", got.Code)
	}
}

func TestWebSocketInvalidPayloadKeepsConnection(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	conn := dialWS(t, srv)

	writeRaw(t, conn, `{"type":"register_camera","payload":{"device_id":"cam"}}`)
	if got := readError(t, conn); got.Code != string(apperrors.CodeInvalidEvent) {
		t.Fatalf("code = %q", got.Code)
	}

	writeRaw(t, conn, `{"type":"session_complete","payload":{"session_id":"s","checkpoint_name":"cp"}}`)
	if got := readError(t, conn); got.Code != string(apperrors.CodeNotRegistered) {
		t.Fatalf("code = %q", got.Code)
	}
}

func TestWebSocketClosesAfterRepeatedDecodeErrors(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	conn := dialWS(t, srv)

	for i := 0; i < maxDecodeErrorsPerConn; i++ {
		writeRaw(t, conn, `not json`)
		if got := readError(t, conn); got.Code != string(apperrors.CodeInvalidEvent) {
			t.Fatalf("code = %q", got.Code)
		}
	}
	expectClosed(t, conn)
}

func TestWebSocketRejectsLargePayload(t *testing.T) {
	srv, _ := newTestServer(t, Options{MaxPayloadBytes: 256})
	conn := dialWS(t, srv)

	writeRaw(t, conn, `{"type":"register_camera","payload":{"device_id":"`+strings.Repeat("x", 512)+`","checkpoint_name":"cp"}}`)
	if got := readError(t, conn); got.Code != string(apperrors.CodePayloadTooLarge) {
		t.Fatalf("code = %q", got.Code)
	}

	writeRaw(t, conn, `{"type":"explode","payload":{}}`)
	if got := readError(t, conn); got.Code != string(apperrors.CodeUnsupportedEvent) {
		t.Fatalf("connection should survive an oversized frame, code = %q", got.Code)
	}
}

func TestWebSocketRateLimitClosesConnection(t *testing.T) {
	srv, _ := newTestServer(t, Options{FramesPerSecond: 0.001, FrameBurst: 1})
	conn := dialWS(t, srv)

	writeRaw(t, conn, `{"type":"explode","payload":{}}`)
	if got := readError(t, conn); got.Code != string(apperrors.CodeUnsupportedEvent) {
		t.Fatalf("first code = %q", got.Code)
	}
	writeRaw(t, conn, `{"type":"explode","request_id":"r2","payload":{}}`)
	got := readError(t, conn)
	if got.Code != string(apperrors.CodeRateLimited) || !got.Retryable {
		t.Fatalf("second error = %+v", got)
	}
	expectClosed(t, conn)
}

func TestWebSocketRejectsNonGet(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp, err := http.Post(srv.URL+"/ws", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestShutdownClosesUnregisteredConnections(t *testing.T) {
	srv, devices, _ := newTestTransport(t, Options{})
	idle := dialWS(t, srv)
	waitFor(t, func() bool { return devices.Len() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := devices.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	expectClosed(t, idle)
	waitFor(t, func() bool { return devices.Len() == 0 })

	late := dialWS(t, srv)
	expectClosed(t, late)
}

func TestConnSendClosesSaturatedPeer(t *testing.T) {
	conn := newConn("c1", nil, 1, time.Second, zap.NewNop())

	if err := conn.Send(events.CameraDisconnected{CheckpointName: "cp"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	err := conn.Send(events.CameraDisconnected{CheckpointName: "cp"})
	if apperrors.CodeOf(err) != apperrors.CodeConnectionSaturated {
		t.Fatalf("second send err = %v", err)
	}
	select {
	case <-conn.Done():
	default:
		t.Fatal("saturated connection not closed")
	}
	if err := conn.Send(events.CameraDisconnected{CheckpointName: "cp"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close err = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
