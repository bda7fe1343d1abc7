package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sigrelay/internal/adapters/signal"
	"github.com/dkeye/sigrelay/internal/app"
	"github.com/dkeye/sigrelay/internal/config"
	"github.com/dkeye/sigrelay/internal/domain"
	"github.com/dkeye/sigrelay/internal/metrics"
	"github.com/dkeye/sigrelay/internal/push"
)

const clientTokenKey = "ct"

// ClientTokenMiddleware gives every browser a stable token kept in the
// session cookie. It only correlates reconnects in logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter wires the signaling endpoint and the read-only HTTP API.
// A nil notifier is replaced by push.Nop.
func SetupRouter(ctx context.Context, cfg *config.Config, relay *app.Relay, notifier push.Notifier) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySession", store))
	r.Use(ClientTokenMiddleware())

	ctrl := signal.NewSignalWSController(
		relay,
		signal.NewRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Interval),
		signal.OptionsFromConfig(cfg),
	)
	ws := func(c *gin.Context) { ctrl.HandleSignal(ctx, c) }
	r.GET("/", ws)
	r.GET("/ws", ws)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(relay.Metrics.Handler()))

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": relay.Rooms.List()})
	})

	api.GET("/rooms/:name", func(c *gin.Context) {
		room, ok := relay.Rooms.Get(domain.RoomName(c.Param("name")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"name":         room.Room().Name,
			"client_count": room.MemberCount(),
		})
	})

	iceServers := cfg.WebRTCICEServers()
	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": iceServers})
	})

	if notifier == nil {
		notifier = push.Nop{}
	}
	registerPush(api.Group("/push"), notifier, relay.Metrics)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

type incomingCallRequest struct {
	Token string `json:"token" binding:"required"`
	push.IncomingCall
}

type callCancelRequest struct {
	Token  string `json:"token" binding:"required"`
	CallID string `json:"callId" binding:"required"`
}

func registerPush(g *gin.RouterGroup, notifier push.Notifier, m *metrics.Metrics) {
	g.POST("/incoming-call", func(c *gin.Context) {
		var req incomingCallRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		pushResult(c, m, notifier.IncomingCall(c.Request.Context(), req.Token, req.IncomingCall))
	})

	g.POST("/call-cancel", func(c *gin.Context) {
		var req callCancelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		pushResult(c, m, notifier.CallCancel(c.Request.Context(), req.Token, req.CallID))
	})
}

func pushResult(c *gin.Context, m *metrics.Metrics, err error) {
	switch {
	case err == nil:
		m.Inc(metrics.PushSent)
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
	case errors.Is(err, push.ErrInvalidToken), errors.Is(err, push.ErrMissingCall):
		m.Inc(metrics.PushFailed)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		m.Inc(metrics.PushFailed)
		log.Error().Err(err).Str("module", "adapters.http").Msg("push failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "push delivery failed"})
	}
}
