// Package signalingtest provides an in-memory relay for tests.
package signalingtest

import (
	"context"
	"sync"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/signaling"
)

// Relay speaks the relay protocol over Go channels.
type Relay struct {
	mu     sync.Mutex
	users  map[domain.UserID]*Conn
	routed []signaling.Message
	// Mute makes the relay swallow joins without acknowledging them.
	Mute bool
}

func NewRelay() *Relay {
	return &Relay{users: make(map[domain.UserID]*Conn)}
}

func (r *Relay) Dial(ctx context.Context) (core.SignalTransport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Conn{relay: r, in: make(chan core.Frame, 256)}, nil
}

// Routed returns every routed message seen so far, in order.
func (r *Relay) Routed() []signaling.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]signaling.Message, len(r.routed))
	copy(out, r.routed)
	return out
}

// Count returns how many routed messages of type t were seen.
func (r *Relay) Count(t signaling.MessageType) int {
	n := 0
	for _, m := range r.Routed() {
		if m.Type() == t {
			n++
		}
	}
	return n
}

// Drop kills the link of user as if the network went away.
func (r *Relay) Drop(user domain.UserID) {
	r.mu.Lock()
	c := r.users[user]
	r.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

func (r *Relay) Online() []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UserID, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	return out
}

func (r *Relay) handle(c *Conn, f core.Frame) {
	m, err := signaling.Decode(f)
	if err != nil {
		return
	}
	switch v := m.(type) {
	case signaling.Join:
		if r.Mute {
			return
		}
		r.mu.Lock()
		online := make([]domain.UserID, 0, len(r.users))
		for id := range r.users {
			online = append(online, id)
		}
		others := r.peersLocked(v.UserID)
		c.user = v.UserID
		r.users[v.UserID] = c
		r.mu.Unlock()
		c.deliver(signaling.Joined{UserID: v.UserID, Online: online})
		for _, o := range others {
			o.deliver(signaling.Presence{UserID: v.UserID, Online: true})
		}
	case signaling.Ping:
		c.deliver(signaling.Pong{})
	case signaling.Routed:
		m = signaling.ForceFrom(m, c.user)
		_, to := v.Route()
		r.mu.Lock()
		r.routed = append(r.routed, m)
		dst := r.users[to]
		r.mu.Unlock()
		if dst != nil {
			dst.deliver(m)
			return
		}
		if m.Type() == signaling.TypeOffer {
			c.deliver(signaling.End{
				SessionID: v.Session(),
				Reason:    domain.ReasonConnectionFailed,
				TS:        signaling.Now(),
				From:      to,
				To:        c.user,
			})
		}
	}
}

func (r *Relay) peersLocked(self domain.UserID) []*Conn {
	out := make([]*Conn, 0, len(r.users))
	for id, c := range r.users {
		if id != self {
			out = append(out, c)
		}
	}
	return out
}

func (r *Relay) leave(c *Conn) {
	r.mu.Lock()
	if r.users[c.user] != c {
		r.mu.Unlock()
		return
	}
	delete(r.users, c.user)
	others := r.peersLocked(c.user)
	r.mu.Unlock()
	for _, o := range others {
		o.deliver(signaling.Presence{UserID: c.user, Online: false})
	}
}

// Conn is one client link to the in-memory relay.
type Conn struct {
	relay *Relay
	user  domain.UserID

	mu     sync.Mutex
	in     chan core.Frame
	closed bool
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return core.ErrConnClosed
	}
	c.relay.handle(c, f)
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
	close(c.in)
	c.mu.Unlock()
	c.relay.leave(c)
}

func (c *Conn) deliver(m signaling.Message) {
	f, err := signaling.Encode(m)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.in <- f:
	default:
	}
}
