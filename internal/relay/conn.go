package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatrelay/internal/protocol"
)

// ErrDisconnected is returned by Conn.ReadMessage once the peer has gone away.
var ErrDisconnected = errors.New("client disconnected")

// Conn is the message-oriented transport a session runs over.
type Conn interface {
	// ReadMessage blocks for the next inbound frame.
	ReadMessage(ctx context.Context) ([]byte, error)
	// WriteJSON sends one outbound frame.
	WriteJSON(v any) error
	// Done is closed when the peer has gone away.
	Done() <-chan struct{}
	Close() error
}

// TransportConfig tunes the websocket transport.
type TransportConfig struct {
	AllowedOrigins []string
	ReadLimit      int64
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// inboundBuffer is how many frames may queue while the session is busy streaming.
const inboundBuffer = 16

type wsConn struct {
	ws           *websocket.Conn
	inbound      chan []byte
	done         chan struct{}
	closing      chan struct{}
	readErr      error
	writeTimeout time.Duration
	pingInterval time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
}

var _ Conn = (*wsConn)(nil)

// newWSConn starts the read pump and, when configured, the ping loop.
func newWSConn(ws *websocket.Conn, cfg TransportConfig) *wsConn {
	c := &wsConn{
		ws:           ws,
		inbound:      make(chan []byte, inboundBuffer),
		done:         make(chan struct{}),
		closing:      make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
	}
	if cfg.ReadLimit > 0 {
		ws.SetReadLimit(cfg.ReadLimit)
	}
	go c.readPump()
	if c.pingInterval > 0 {
		go c.pingLoop()
	}
	return c
}

func (c *wsConn) readPump() {
	defer close(c.done)

	if c.pingInterval > 0 {
		pongWait := 2 * c.pingInterval
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Msg("Websocket closed unexpectedly")
			}
			c.readErr = fmt.Errorf("%w: %v", ErrDisconnected, err)
			return
		}
		select {
		case c.inbound <- data:
		case <-c.closing:
			c.readErr = ErrDisconnected
			return
		}
	}
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.controlTimeout())); err != nil {
				return
			}
		case <-c.done:
			return
		case <-c.closing:
			return
		}
	}
}

func (c *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.done:
		select {
		case data := <-c.inbound:
			return data, nil
		default:
		}
		return nil, c.readErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *wsConn) WriteJSON(v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *wsConn) Done() <-chan struct{} { return c.done }

// Close sends a normal-closure frame and closes the socket.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.controlTimeout()))
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) controlTimeout() time.Duration {
	if c.writeTimeout > 0 {
		return c.writeTimeout
	}
	return time.Second
}
