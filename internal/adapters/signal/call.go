package signal

import (
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/signaling"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRouted(from domain.UserID, conn *WsSignalConn, m signaling.Routed) {
	if _, to := m.Route(); to == "" || to == from {
		ctl.sendError(conn, "bad_addressee", m.Session())
		return
	}
	if m.Type() == signaling.TypeOffer && ctl.Limiter != nil && !ctl.Limiter.Allow(from) {
		log.Warn().Str("module", "signal").Str("user", string(from)).Msg("offer rate limited")
		ctl.sendError(conn, "rate_limited", m.Session())
		return
	}
	ctl.Hub.Route(from, m)
}
