package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/app/fanout"
	"github.com/dkeye/videoroom/internal/app/orch"
	"github.com/dkeye/videoroom/internal/config"
)

const (
	clientTokenKey = "client_token"
	eventsBuffer   = 32
)

// RoomService is the controller surface the UI drives.
type RoomService interface {
	Snapshot() orch.RoomSnapshot
	Leave(ctx context.Context) error
}

type Deps struct {
	Room    RoomService
	Hub     *fanout.Hub
	Limiter *RateLimiter
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware keeps a per-browser token in the session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Limiter == nil {
		deps.Limiter = NewRateLimiter(3, time.Minute)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("VideoRoomSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/room", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Room.Snapshot())
	})
	api.POST("/leave", func(c *gin.Context) {
		token := c.GetString(clientTokenKey)
		if !deps.Limiter.Allow(token) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		if err := deps.Room.Leave(c.Request.Context()); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("sid", token).Msg("leave failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		log.Info().Str("module", "adapters.http").Str("sid", token).Msg("left via api")
		c.JSON(http.StatusOK, gin.H{"type": "left"})
	})
	api.GET("/events", func(c *gin.Context) {
		streamEvents(c, deps.Hub)
	})
	return r
}

// streamEvents relays hub notifications as server-sent events until the
// client goes away. A client too slow to keep up misses notifications.
func streamEvents(c *gin.Context, hub *fanout.Hub) {
	ctx := c.Request.Context()
	sub := hub.Subscribe(eventsBuffer)
	defer hub.Unsubscribe(sub)

	sid := c.GetString(clientTokenKey)
	log.Info().Str("module", "adapters.http").Str("sid", sid).Str("sub", sub.ID).Msg("events stream opened")

	notes := make(chan fanout.Notification, eventsBuffer)
	go fanout.Drain(ctx, sub, func(n fanout.Notification) {
		select {
		case notes <- n:
		default:
			log.Debug().Str("module", "adapters.http").Str("sid", sid).Str("channel", n.Channel).Msg("sse notification dropped")
		}
	})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-sub.Done():
			return false
		case n := <-notes:
			c.SSEvent(n.Channel, n)
			return true
		}
	})
	log.Info().Str("module", "adapters.http").Str("sid", sid).Msg("events stream closed")
}
