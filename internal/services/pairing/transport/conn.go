package transport

import (
	"errors"
	"sync"
	"time"

	apperrors "github.com/louisbranch/checkpointsync/internal/platform/errors"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/events"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// ErrClosed is returned by Send on a closed connection.
var ErrClosed = errors.New("connection closed")

// Conn is one device WebSocket. Outbound frames are queued and written by a
// dedicated goroutine so a slow device never blocks the sender; a device
// whose queue fills up is disconnected.
type Conn struct {
	id           string
	ws           *websocket.Conn
	log          *zap.Logger
	writeTimeout time.Duration

	out        chan []byte
	closing    chan struct{}
	closeOnce  sync.Once
	socketOnce sync.Once
	stopped    chan struct{}
}

func newConn(id string, ws *websocket.Conn, queueSize int, writeTimeout time.Duration, log *zap.Logger) *Conn {
	return &Conn{
		id:           id,
		ws:           ws,
		log:          log,
		writeTimeout: writeTimeout,
		out:          make(chan []byte, queueSize),
		closing:      make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// ID is the server-assigned connection id.
func (c *Conn) ID() string {
	return c.id
}

// Send queues event for delivery.
func (c *Conn) Send(event events.Outbound) error {
	data, err := events.EncodeFrame(event)
	if err != nil {
		return err
	}
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		c.log.Warn("outbound queue full, closing connection",
			zap.String("conn_id", c.id),
			zap.String("event", string(event.EventType())),
		)
		_ = c.Close()
		c.closeSocket()
		return apperrors.New(apperrors.CodeConnectionSaturated, "outbound queue full")
	}
}

// Close stops accepting frames. Frames already queued are still written
// before the socket closes, for at most the write timeout. It is safe to call
// more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		if c.writeTimeout > 0 {
			time.AfterFunc(c.writeTimeout, c.closeSocket)
		}
	})
	return nil
}

// Done is closed once the connection stops accepting frames.
func (c *Conn) Done() <-chan struct{} {
	return c.closing
}

func (c *Conn) closeSocket() {
	c.socketOnce.Do(func() {
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// writeLoop owns every socket write. It exits once the connection is closed
// and the queue is drained, or on the first failed write.
func (c *Conn) writeLoop() {
	defer close(c.stopped)
	defer c.closeSocket()
	for {
		select {
		case data := <-c.out:
			if !c.write(data) {
				return
			}
		case <-c.closing:
			for {
				select {
				case data := <-c.out:
					if !c.write(data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) write(data []byte) bool {
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := websocket.Message.Send(c.ws, string(data)); err != nil {
		c.log.Debug("write frame failed", zap.String("conn_id", c.id), zap.Error(err))
		_ = c.Close()
		return false
	}
	return true
}
