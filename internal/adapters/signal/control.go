package signal

import (
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/signaling"
)

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.send(conn, signaling.Pong{})
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, code string, sid domain.SessionID) {
	ctl.send(conn, signaling.Error{Code: code, SessionID: sid})
}
