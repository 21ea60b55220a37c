// Package app holds the relay's user registry and routing rules.
package app

import (
	"context"
	"errors"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/signaling"
	"github.com/rs/zerolog/log"
)

// Hub routes call messages between joined users and keeps everyone's presence current.
type Hub struct {
	Registry *Registry
	Policy   Policy
}

func NewHub(policy Policy) *Hub {
	return &Hub{Registry: NewRegistry(), Policy: policy}
}

// Join binds conn to user, acknowledges it and announces the user to everyone else.
// An older connection of the same user is kicked.
func (h *Hub) Join(j signaling.Join, connID string, conn core.SignalConnection, cancel context.CancelFunc) {
	online := h.Registry.Online()
	others := online[:0:0]
	for _, id := range online {
		if id != j.UserID {
			others = append(others, id)
		}
	}
	if prev := h.Registry.Bind(j.UserID, j.DisplayName, connID, conn, cancel); prev != nil && prev.ConnID != connID {
		log.Info().Str("module", "app.hub").Str("user", string(j.UserID)).Str("conn", prev.ConnID).Msg("replacing older connection")
		if prev.Cancel != nil {
			prev.Cancel()
		}
	}
	h.sendTo(j.UserID, conn, signaling.Joined{UserID: j.UserID, Online: others})
	h.broadcastFrom(j.UserID, signaling.Presence{UserID: j.UserID, Online: true})
}

// Leave unbinds user if connID is still current and announces it offline.
func (h *Hub) Leave(user domain.UserID, connID string) {
	name, _ := h.Registry.DisplayName(user)
	if user == "" || !h.Registry.Unbind(user, connID) {
		return
	}
	log.Info().Str("module", "app.hub").Str("user", string(user)).Str("name", name).Msg("left")
	h.broadcastFrom(user, signaling.Presence{UserID: user, Online: false})
}

// Route delivers m to its addressee with from stamped by the relay. An offer to a
// user who is not connected is answered with a connection_failed end.
func (h *Hub) Route(from domain.UserID, m signaling.Routed) {
	m = signaling.ForceFrom(m, from).(signaling.Routed)
	_, to := m.Route()
	if conn, ok := h.Registry.Get(to); ok {
		h.sendTo(to, conn, m)
		return
	}
	log.Info().Str("module", "app.hub").Str("from", string(from)).Str("to", string(to)).Str("type", string(m.Type())).Msg("addressee offline")
	if m.Type() != signaling.TypeOffer {
		return
	}
	if conn, ok := h.Registry.Get(from); ok {
		h.sendTo(from, conn, signaling.End{
			SessionID: m.Session(),
			Reason:    domain.ReasonConnectionFailed,
			TS:        signaling.Now(),
			From:      to,
			To:        from,
		})
	}
}

func (h *Hub) Online() []domain.UserID {
	return h.Registry.Online()
}

func (h *Hub) broadcastFrom(self domain.UserID, m signaling.Message) {
	for _, snap := range h.Registry.Others(self) {
		h.sendTo(snap.User, snap.Conn, m)
	}
}

func (h *Hub) sendTo(user domain.UserID, conn core.SignalConnection, m signaling.Message) {
	frame, err := signaling.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("encode")
		return
	}
	err = conn.TrySend(frame)
	if err == nil || h.Policy == nil {
		return
	}
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Err(err).Str("module", "app.hub").Str("user", string(user)).Msg("send to closed connection")
		return
	}
	switch h.Policy.OnBackPressure(user) {
	case KickMember:
		log.Warn().Str("module", "app.hub").Str("user", string(user)).Msg("slow consumer kicked")
		h.Registry.Cancel(user)
	case DropFrame, NoAction:
	}
}
