package routers

import (
	"github.com/gin-gonic/gin"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/api/handlers"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/api/middleware"
)

type Router struct {
	Handler   *handlers.Handler
	WSHandler *handlers.WebSocketHandler
}

func NewRouter(handler *handlers.Handler, wsh *handlers.WebSocketHandler) *Router {
	return &Router{
		Handler:   handler,
		WSHandler: wsh,
	}
}

func (rtr *Router) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(), middleware.CorsMiddleware())

	// An upgrade request for the page itself becomes a control socket.
	router.GET("/", func(c *gin.Context) {
		if handlers.IsUpgrade(c) {
			rtr.WSHandler.UpgradeHandler(c)
			return
		}
		rtr.Handler.Index(c)
	})
	router.GET("/ws", rtr.WSHandler.UpgradeHandler)
	router.GET("/lib.js", rtr.Handler.LibJS)
	router.GET("/health", rtr.Handler.HealthCheck)
	router.GET("/paired", rtr.Handler.PairedDevices)

	return router
}
