// Package presence keeps the set of users currently reachable through the relay.
package presence

import (
	"slices"
	"sync"

	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/signaling"
	"github.com/rs/zerolog/log"
)

// Subscriber is the part of the signaling channel the tracker listens on.
type Subscriber interface {
	Subscribe(h signaling.Handler) (unsubscribe func())
}

type Tracker struct {
	mu     sync.RWMutex
	online map[domain.UserID]bool
}

func NewTracker() *Tracker {
	return &Tracker{online: make(map[domain.UserID]bool)}
}

func (t *Tracker) MarkOnline(id domain.UserID) {
	t.mu.Lock()
	t.online[id] = true
	t.mu.Unlock()
}

func (t *Tracker) MarkOffline(id domain.UserID) {
	t.mu.Lock()
	delete(t.online, id)
	t.mu.Unlock()
}

func (t *Tracker) IsOnline(id domain.UserID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[id]
}

// ListOnline returns the online users sorted by id.
func (t *Tracker) ListOnline() []domain.UserID {
	t.mu.RLock()
	out := make([]domain.UserID, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	t.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (t *Tracker) Apply(p signaling.Presence) {
	if p.Online {
		t.MarkOnline(p.UserID)
	} else {
		t.MarkOffline(p.UserID)
	}
	log.Debug().Str("module", "presence").Str("user", string(p.UserID)).Bool("online", p.Online).Msg("presence")
}

// Replace swaps the whole roster, as fetched from the directory.
func (t *Tracker) Replace(ids []domain.UserID) {
	next := make(map[domain.UserID]bool, len(ids))
	for _, id := range ids {
		next[id] = true
	}
	t.mu.Lock()
	t.online = next
	t.mu.Unlock()
}

// Bind feeds presence messages from s into the tracker until unsubscribed.
func (t *Tracker) Bind(s Subscriber) (unsubscribe func()) {
	return s.Subscribe(func(m signaling.Message) {
		if p, ok := m.(signaling.Presence); ok {
			t.Apply(p)
		}
	})
}
