package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/sachigoyal/echo-auth/internal/config"
	"github.com/sachigoyal/echo-auth/internal/http/handler"
	httpmiddleware "github.com/sachigoyal/echo-auth/internal/http/middleware"
	"github.com/sachigoyal/echo-auth/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, tokenHandler *handler.TokenHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	oauth := r.Group("/oauth")
	{
		oauth.POST("/token", tokenHandler.Token)
	}

	authGroup := r.Group("/auth")
	{
		authGroup.GET("/me", authMiddleware.Require, tokenHandler.Me)
		authGroup.GET("/apps", authMiddleware.Require, tokenHandler.Apps)
	}

	return r
}
