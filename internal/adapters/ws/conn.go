// Package ws is the client side websocket link to the signaling relay.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/rs/zerolog/log"
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	SetReadLimit(limit int64)
	Close() error
}

type Dialer struct {
	URL          string
	Header       http.Header
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func (d Dialer) Dial(ctx context.Context) (core.SignalTransport, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, err
	}
	c := NewConn(ws, d)
	log.Info().Str("module", "adapters.ws").Str("url", d.URL).Msg("relay link up")
	return c, nil
}

// Conn implements core.SignalTransport on top of a websocket.
type Conn struct {
	conn WSConn
	send chan core.Frame
	in   chan core.Frame

	pingPeriod   time.Duration
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewConn(conn WSConn, d Dialer) *Conn {
	if d.PingPeriod <= 0 {
		d.PingPeriod = 54 * time.Second
	}
	if d.WriteTimeout <= 0 {
		d.WriteTimeout = 5 * time.Second
	}
	if d.SendBuffer <= 0 {
		d.SendBuffer = 64
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	c := &Conn{
		conn:         conn,
		send:         make(chan core.Frame, d.SendBuffer),
		in:           make(chan core.Frame, d.SendBuffer),
		pingPeriod:   d.PingPeriod,
		writeTimeout: d.WriteTimeout,
		done:         make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *Conn) Inbound() <-chan core.Frame { return c.in }

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("write error")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "adapters.ws").Msg("ping failed")
				return
			}
		}
	}
}

func (c *Conn) write(mt int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(mt, data)
}

// readLoop owns the inbound channel and closes it on exit.
func (c *Conn) readLoop() {
	defer close(c.in)
	defer c.Close()

	deadline := func() { _ = c.conn.SetReadDeadline(time.Now().Add(c.pingPeriod * 2)) }
	deadline()
	c.conn.SetPongHandler(func(string) error { deadline(); return nil })
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Str("module", "adapters.ws").Msg("read error")
			}
			return
		}
		deadline()
		select {
		case c.in <- core.Frame(data):
		case <-c.done:
			return
		}
	}
}
