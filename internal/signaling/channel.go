package signaling

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

const DefaultAckTimeout = 5 * time.Second

type Handler func(Message)

// Channel is the client's pub/sub view of the relay link.
// Inbound messages are dispatched in arrival order on a single goroutine.
type Channel struct {
	dialer     core.SignalDialer
	ackTimeout time.Duration

	mu        sync.Mutex
	self      domain.UserID
	transport core.SignalTransport
	handlers  map[uint64]Handler
	nextID    uint64
	sessions  map[domain.SessionID]domain.UserID
}

func NewChannel(dialer core.SignalDialer, ackTimeout time.Duration) *Channel {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Channel{
		dialer:     dialer,
		ackTimeout: ackTimeout,
		handlers:   make(map[uint64]Handler),
		sessions:   make(map[domain.SessionID]domain.UserID),
	}
}

// Connect joins the relay as user and waits for its acknowledgement.
func (c *Channel) Connect(ctx context.Context, user domain.User) error {
	if c.Connected() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.ackTimeout)
	defer cancel()

	t, err := c.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", core.ErrRelayUnavailable, err)
	}
	join, err := Encode(Join{UserID: user.ID, DisplayName: user.DisplayName})
	if err != nil {
		t.Close()
		return err
	}
	if err := t.TrySend(join); err != nil {
		t.Close()
		return fmt.Errorf("%w: join: %v", core.ErrRelayUnavailable, err)
	}
	ack, backlog, err := awaitAck(ctx, t)
	if err != nil {
		t.Close()
		return err
	}

	c.mu.Lock()
	c.self = user.ID
	c.transport = t
	c.mu.Unlock()

	log.Info().Str("module", "signaling").Str("user", string(user.ID)).Int("online", len(ack.Online)).Msg("connected to relay")
	go c.dispatchLoop(t, ack, backlog)
	return nil
}

func awaitAck(ctx context.Context, t core.SignalTransport) (Joined, []Message, error) {
	var backlog []Message
	for {
		select {
		case <-ctx.Done():
			return Joined{}, nil, fmt.Errorf("%w: no join ack: %v", core.ErrRelayUnavailable, ctx.Err())
		case f, ok := <-t.Inbound():
			if !ok {
				return Joined{}, nil, fmt.Errorf("%w: closed before join ack", core.ErrRelayUnavailable)
			}
			m, err := Decode(f)
			if err != nil {
				log.Warn().Err(err).Str("module", "signaling").Msg("drop frame before ack")
				continue
			}
			if j, ok := m.(Joined); ok {
				return j, backlog, nil
			}
			backlog = append(backlog, m)
		}
	}
}

func (c *Channel) dispatchLoop(t core.SignalTransport, ack Joined, backlog []Message) {
	for _, id := range ack.Online {
		if id != ack.UserID {
			c.dispatch(Presence{UserID: id, Online: true})
		}
	}
	for _, m := range backlog {
		c.dispatch(m)
	}
	for f := range t.Inbound() {
		m, err := Decode(f)
		if err != nil {
			log.Warn().Err(err).Str("module", "signaling").Msg("drop bad frame")
			continue
		}
		switch v := m.(type) {
		case Ping, Pong:
			continue
		case Error:
			log.Warn().Str("module", "signaling").Str("code", v.Code).Str("session", string(v.SessionID)).Msg("relay error")
			continue
		}
		c.dispatch(m)
	}
	c.transportLost(t)
}

func (c *Channel) transportLost(t core.SignalTransport) {
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	self := c.self
	c.transport = nil
	lost := c.sessions
	c.sessions = make(map[domain.SessionID]domain.UserID)
	c.mu.Unlock()

	// drops whatever is still queued for writing
	t.Close()
	log.Warn().Str("module", "signaling").Str("user", string(self)).Int("sessions", len(lost)).Msg("relay link lost")
	for sid, peer := range lost {
		c.dispatch(End{
			SessionID: sid,
			Reason:    domain.ReasonConnectionFailed,
			TS:        Now(),
			From:      peer,
			To:        self,
		})
	}
}

func (c *Channel) dispatch(m Message) {
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.handlers))
	for id := range c.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	hs := make([]Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, c.handlers[id])
	}
	c.mu.Unlock()

	for _, h := range hs {
		if r := panics.Try(func() { h(m) }); r != nil {
			log.Error().Err(r.AsError()).Str("module", "signaling").Str("type", string(m.Type())).Msg("handler panic")
		}
	}
}

// Send is fire-and-forget; the error is informational.
func (c *Channel) Send(m Message) error {
	c.mu.Lock()
	t, self := c.transport, c.self
	c.mu.Unlock()
	if t == nil {
		log.Debug().Str("module", "signaling").Str("type", string(m.Type())).Msg("send while disconnected")
		return core.ErrNotConnected
	}
	frame, err := Encode(WithFrom(m, self))
	if err != nil {
		return err
	}
	if err := t.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signaling").Str("type", string(m.Type())).Msg("send failed")
		return fmt.Errorf("send %s: %w", m.Type(), err)
	}
	return nil
}

// Subscribe registers h for every inbound message; call the returned func to stop.
func (c *Channel) Subscribe(h Handler) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = h
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// TrackSession marks sid as live so a lost link ends it with connection_failed.
func (c *Channel) TrackSession(sid domain.SessionID, peer domain.UserID) {
	c.mu.Lock()
	c.sessions[sid] = peer
	c.mu.Unlock()
}

func (c *Channel) UntrackSession(sid domain.SessionID) {
	c.mu.Lock()
	delete(c.sessions, sid)
	c.mu.Unlock()
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil
}

func (c *Channel) Self() domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Close leaves the relay without emitting synthetic ends.
func (c *Channel) Close() {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.sessions = make(map[domain.SessionID]domain.UserID)
	c.mu.Unlock()
	if t != nil {
		t.Close()
	}
}
