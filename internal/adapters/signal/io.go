package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/signaling"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	var user domain.UserID
	defer func() {
		log.Info().Str("module", "signal").Str("conn", c.id).Str("user", string(user)).Msg("readPump closing")
		ctl.Hub.Leave(user, c.id)
		cancel()
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	deadline := func() error { return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PingPeriod * 2)) }
	_ = deadline()
	c.conn.SetPongHandler(func(string) error { return deadline() })

	// ReadMessage does not observe ctx; closing the socket unblocks it
	go func() {
		<-ctx.Done()
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("readPump read error")
			}
			return
		}
		_ = deadline()
		user = ctl.handleSignal(user, c, cancel, data)
	}
}

// handleSignal processes one frame and returns the user bound to the connection.
func (ctl *SignalWSController) handleSignal(user domain.UserID, c *WsSignalConn, cancel context.CancelFunc, data []byte) domain.UserID {
	m, err := signaling.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("bad frame")
		ctl.sendError(c, "bad_payload", "")
		return user
	}

	switch v := m.(type) {
	case signaling.Join:
		return ctl.handleJoin(user, c, cancel, v)
	case signaling.Ping:
		ctl.handlePing(c)
	case signaling.Routed:
		if user == "" {
			ctl.sendError(c, "not_joined", v.Session())
			return user
		}
		ctl.handleRouted(user, c, v)
	default:
		log.Warn().Str("module", "signal").Str("type", string(m.Type())).Msg("unexpected message")
		ctl.sendError(c, "unsupported", "")
	}
	return user
}

func (ctl *SignalWSController) send(c *WsSignalConn, m signaling.Message) {
	b, err := signaling.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", c.id).Msg("reply dropped")
	}
}

var _ core.SignalConnection = (*WsSignalConn)(nil)
