// Package transport serves the device WebSocket endpoint and turns frames
// into validated events for the coordinator.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/louisbranch/checkpointsync/internal/platform/errors"
	"github.com/louisbranch/checkpointsync/internal/platform/id"
	"github.com/louisbranch/checkpointsync/internal/platform/timeouts"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/events"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/registry"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"
)

const (
	defaultMaxPayloadBytes = 16 * 1024
	defaultFramesPerSecond = 40
	defaultOutboundQueue   = 64
	maxDecodeErrorsPerConn = 3
)

// Handler receives the events of every connection.
type Handler interface {
	Handle(ctx context.Context, conn registry.Conn, requestID string, event events.Inbound) error
	Disconnect(conn registry.Conn)
}

// Options tunes per-connection limits. Zero values select defaults.
type Options struct {
	Logger          *zap.Logger
	MaxPayloadBytes int
	FramesPerSecond float64
	FrameBurst      int
	OutboundQueue   int
	WriteTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = defaultMaxPayloadBytes
	}
	if o.FramesPerSecond <= 0 {
		o.FramesPerSecond = defaultFramesPerSecond
	}
	if o.FrameBurst <= 0 {
		o.FrameBurst = int(o.FramesPerSecond)
	}
	if o.OutboundQueue <= 0 {
		o.OutboundQueue = defaultOutboundQueue
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = timeouts.WebSocketWrite
	}
	return o
}

// Server accepts device WebSockets and tracks them until they close.
type Server struct {
	handler Handler
	opts    Options
	ws      websocket.Server

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

// NewServer returns the /ws endpoint handler.
func NewServer(handler Handler, opts Options) *Server {
	s := &Server{handler: handler, opts: opts.withDefaults(), conns: make(map[string]*Conn)}
	s.ws = websocket.Server{
		// Devices self-identify; any origin may connect.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   s.serveConn,
	}
	return s
}

// ServeHTTP upgrades GET requests to WebSocket connections.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ws.ServeHTTP(w, r)
}

func (s *Server) serveConn(ws *websocket.Conn) {
	log := s.opts.Logger
	connID, err := id.NewID()
	if err != nil {
		log.Error("generate connection id", zap.Error(err))
		return
	}
	ws.MaxPayloadBytes = s.opts.MaxPayloadBytes

	conn := newConn(connID, ws, s.opts.OutboundQueue, s.opts.WriteTimeout, log)
	go conn.writeLoop()
	defer func() {
		s.handler.Disconnect(conn)
		_ = conn.Close()
		<-conn.stopped
		s.untrack(conn)
		log.Debug("connection closed", zap.String("conn_id", connID))
	}()
	if !s.track(conn) {
		return
	}
	log.Debug("connection opened", zap.String("conn_id", connID), zap.String("remote", ws.Request().RemoteAddr))

	ctx := ws.Request().Context()
	limiter := rate.NewLimiter(rate.Limit(s.opts.FramesPerSecond), s.opts.FrameBurst)
	decodeErrors := 0

	for {
		var raw []byte
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				s.reject(conn, "", apperrors.New(apperrors.CodePayloadTooLarge, "payload too large"))
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Debug("read frame failed", zap.String("conn_id", connID), zap.Error(err))
			}
			return
		}

		frame, err := events.DecodeFrame(raw)
		if err != nil {
			decodeErrors++
			s.reject(conn, "", err)
			if decodeErrors >= maxDecodeErrorsPerConn {
				log.Info("too many invalid frames, closing connection", zap.String("conn_id", connID))
				return
			}
			continue
		}
		decodeErrors = 0

		if !limiter.Allow() {
			s.reject(conn, frame.RequestID, apperrors.New(apperrors.CodeRateLimited, "rate limit exceeded"))
			log.Info("rate limit exceeded, closing connection", zap.String("conn_id", connID))
			return
		}

		event, err := events.ParseInbound(frame)
		if err != nil {
			s.reject(conn, frame.RequestID, err)
			continue
		}
		_ = s.handler.Handle(ctx, conn, frame.RequestID, event)
	}
}

func (s *Server) track(conn *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn.ID()] = conn
	return true
}

func (s *Server) untrack(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn.ID())
}

// Shutdown refuses new connections and closes every open one, registered or
// not, after its queued frames are flushed. It waits for the write loops to
// stop or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	for _, conn := range conns {
		select {
		case <-conn.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Len returns the number of open connections.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) reject(conn *Conn, requestID string, err error) {
	if sendErr := conn.Send(events.NewError(requestID, err)); sendErr != nil {
		s.opts.Logger.Debug("send error frame failed", zap.String("conn_id", conn.ID()), zap.Error(sendErr))
	}
}
