package signal

import (
	"context"

	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/signaling"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	current domain.UserID,
	conn *WsSignalConn,
	cancel context.CancelFunc,
	j signaling.Join,
) domain.UserID {
	if err := j.UserID.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", conn.id).Msg("bad join")
		ctl.sendError(conn, "invalid_user", "")
		return current
	}
	if current != "" && current != j.UserID {
		ctl.sendError(conn, "already_joined", "")
		return current
	}
	j.DisplayName = domain.ClampDisplayName(j.DisplayName)

	log.Info().Str("module", "signal").Str("conn", conn.id).Str("user", string(j.UserID)).Msg("join")
	ctl.Hub.Join(j, conn.id, conn, cancel)
	return j.UserID
}
