package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/sigrelay/internal/app"
	"github.com/dkeye/sigrelay/internal/config"
	"github.com/dkeye/sigrelay/internal/core"
	"github.com/dkeye/sigrelay/internal/domain"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	}
}

type SignalWSController struct {
	Relay    *app.Relay
	Limiter  *RateLimiter
	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(relay *app.Relay, limiter *RateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Relay:    relay,
		Limiter:  limiter,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WsSignalConn is the WebSocket implementation of core.SignalConnection.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu    sync.RWMutex
	state domain.ConnState
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != domain.StateOpen {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) State() domain.ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *WsSignalConn) markClosing() {
	c.mu.Lock()
	if c.state == domain.StateOpen {
		c.state = domain.StateClosing
	}
	c.mu.Unlock()
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.state == domain.StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = domain.StateClosed
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades the request and serves the connection until it
// closes. The read pump is the only exit path and always releases the
// connection from the relay.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	client := c.GetString("client_token")

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	id := ctl.Relay.Accept(conn, cancel, client)
	log.Info().Str("module", "signal").Str("cid", string(id)).Str("client", client).Str("remote", ws.RemoteAddr().String()).Msg("new WS connection")

	var wg conc.WaitGroup
	wg.Go(func() { ctl.writePump(ctx, id, conn) })
	ctl.readPump(id, conn)
	cancel()
	wg.Wait()
}
