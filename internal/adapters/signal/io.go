package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sigrelay/internal/app"
	"github.com/dkeye/sigrelay/internal/domain"
	"github.com/dkeye/sigrelay/internal/metrics"
)

func (ctl *SignalWSController) writePump(ctx context.Context, id domain.ConnectionID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("cid", string(id)).Msg("writePump ctx done")
			writeClose(c.conn, websocket.CloseGoingAway, "server closing", ctl.opts.WriteWait)
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("cid", string(id)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("cid", string(id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("cid", string(id)).Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(id domain.ConnectionID, c *WsSignalConn) {
	defer func() {
		c.markClosing()
		ctl.Relay.Disconnect(id)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(id)
		}
		c.Close()
		log.Info().Str("module", "signal").Str("cid", string(id)).Msg("readPump closed")
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Str("module", "signal").Str("cid", string(id)).Msg("readPump read error")
			}
			return
		}
		// Any inbound frame proves liveness.
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))

		if !app.ControlFrame(data) && !ctl.Limiter.Allow(id) {
			ctl.Relay.Metrics.Inc(metrics.MessagesRateLimited)
			log.Debug().Str("module", "signal").Str("cid", string(id)).Msg("message rate limited")
			continue
		}
		ctl.Relay.HandleMessage(id, data)
	}
}
