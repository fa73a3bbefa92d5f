package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/adapters/relay"
	"github.com/dkeye/matchcall/internal/config"
)

const (
	clientTokenCookie = "ct"
	clientTokenMaxAge = 3600 * 24 * 7
)

// ClientTokenMiddleware gives every client a stable token. The relay rate
// limits publishes per token, so reconnecting does not reset the window.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(clientTokenCookie)
		if token == "" {
			token = uuid.NewString()
			c.SetCookie(clientTokenCookie, token, clientTokenMaxAge, "/", "", false, true)
		}
		c.Set(relay.ClientTokenKey, token)
		c.Next()
	}
}

// SetupRouter wires the relay endpoints. metrics may be nil.
func SetupRouter(ctx context.Context, cfg *config.Config, ctrl *relay.BusWSController, metrics http.Handler) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MatchcallSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/bus", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("sid", c.GetString(relay.ClientTokenKey)).Msg("ws bus endpoint hit")
		ctrl.HandleBus(ctx, c)
	})

	return r
}
