package server

import (
	"net/http"

	"animehub/internal/auth"
	"animehub/internal/config"
	"animehub/internal/metrics"
	"animehub/internal/mw"
	"animehub/internal/service"
	"animehub/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services 是 HTTP 层依赖的服务集合。
type Services struct {
	Sessions *service.SessionService
	Rooms    *service.RoomService
	Messages *service.MessageService
	Relay    *ws.Relay
}

// SetupRouter 初始化中间件、JSON API 与 WebSocket 端点。
func SetupRouter(cfg config.Config, svc Services, limiters *mw.Limiters) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(svc.Sessions, svc.Rooms, svc.Messages, svc.Relay, cfg.ActiveWindow)
	api := r.Group("/api")
	api.Use(mw.RateLimit(limiters))

	api.POST("/session/create", h.CreateSession)
	api.POST("/session/validate", h.ValidateSession)
	api.POST("/session/invalidate", h.InvalidateSession)
	api.GET("/messages", h.ListMessages)
	api.GET("/users/active", h.ActiveUsers)
	api.POST("/party/create", h.CreateParty)
	api.POST("/party/join", h.JoinParty)
	api.POST("/party/leave", h.LeaveParty)

	authed := api.Group("")
	authed.Use(auth.SessionMiddleware(svc.Sessions))
	authed.GET("/session/me", h.Me)
	authed.GET("/party/:roomToken/members", h.PartyMembers)

	r.GET("/ws", svc.Relay.Serve())
	return r
}
