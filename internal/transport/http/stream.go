package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/rs/zerolog/log"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingPeriod   = 30 * time.Second
	streamBuffer       = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStateStream pushes the current snapshot and then every transition.
// A slow reader loses intermediate snapshots, never the latest one.
func (ctl *controller) handleStateStream(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.http").Msg("state stream upgrade")
		return
	}

	updates := make(chan core.Snapshot, streamBuffer)
	push := func(s core.Snapshot) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	unsubscribe := ctl.Calls.OnStateChange(push)
	push(ctl.Calls.Snapshot())

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(streamPingPeriod)
		defer func() {
			ticker.Stop()
			unsubscribe()
			_ = ws.Close()
			log.Debug().Str("module", "transport.http").Msg("state stream closed")
		}()
		var lastVersion uint64
		sent := false
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-updates:
				if sent && s.Version <= lastVersion {
					continue
				}
				b, err := json.Marshal(s)
				if err != nil {
					log.Error().Err(err).Str("module", "transport.http").Msg("marshal snapshot")
					continue
				}
				_ = ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
				lastVersion, sent = s.Version, true
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()
}
