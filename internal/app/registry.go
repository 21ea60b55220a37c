package app

import (
	"context"
	"slices"
	"sync"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	ConnID      string
	DisplayName string
	Conn        core.SignalConnection
	Cancel      context.CancelFunc
}

// Registry maps joined users to their signaling connection. A user has at most one.
type Registry struct {
	mu    sync.RWMutex
	users map[domain.UserID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[domain.UserID]*connEntry)}
}

// Bind registers conn for user and returns the entry it displaced, if any.
func (r *Registry) Bind(user domain.UserID, displayName, connID string, conn core.SignalConnection, cancel context.CancelFunc) (displaced *connEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	displaced = r.users[user]
	r.users[user] = &connEntry{ConnID: connID, DisplayName: displayName, Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("user", string(user)).Str("conn", connID).Msg("bound connection")
	return displaced
}

// Unbind removes user only while connID is still its connection.
func (r *Registry) Unbind(user domain.UserID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[user]
	if !ok || e.ConnID != connID {
		return false
	}
	delete(r.users, user)
	log.Info().Str("module", "app.registry").Str("user", string(user)).Str("conn", connID).Msg("unbind connection")
	return true
}

func (r *Registry) Get(user domain.UserID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.users[user]; ok {
		return e.Conn, true
	}
	return nil, false
}

// DisplayName returns the name user joined with.
func (r *Registry) DisplayName(user domain.UserID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[user]
	if !ok {
		return "", false
	}
	return e.DisplayName, true
}

// Online lists joined users sorted by id.
func (r *Registry) Online() []domain.UserID {
	r.mu.RLock()
	out := make([]domain.UserID, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

type regSnap struct {
	User domain.UserID
	Conn core.SignalConnection
}

// Others returns every joined user except self.
func (r *Registry) Others(self domain.UserID) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.users))
	for id, e := range r.users {
		if id != self {
			out = append(out, regSnap{User: id, Conn: e.Conn})
		}
	}
	return out
}

// Cancel stops the pumps of user's connection.
func (r *Registry) Cancel(user domain.UserID) bool {
	r.mu.RLock()
	e, ok := r.users[user]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("user", string(user)).Msg("canceled connection")
	return true
}
