// Package http serves the bot's status and observability API.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"echocall/internal/app"
	"echocall/internal/config"
)

func SetupRouter(cfg *config.Config, reg *app.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "active_calls": reg.Len()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/calls", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.Snapshot())
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
