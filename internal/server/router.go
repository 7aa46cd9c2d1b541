// Package server assembles the gin engine and the HTTP server lifecycle.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Youssef-Hatem/policylens/internal/config"
	"github.com/Youssef-Hatem/policylens/internal/handler"
	"github.com/Youssef-Hatem/policylens/internal/server/middleware"
)

// NewRouter wires middleware and routes.
func NewRouter(cfg *config.Config, analyze *handler.AnalyzeHandler, health *handler.HealthHandler) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(
		middleware.Recovery(),
		middleware.RequestLogger(),
		middleware.CORS(cfg.CORS),
	)

	r.GET("/healthz", health.Healthz)

	api := r.Group("/api/v1")
	{
		api.POST("/analyze", analyze.Analyze)
		api.POST("/analyze/force", analyze.ForceAnalyze)
		api.GET("/tasks/:id", analyze.Status)
		api.GET("/tasks/:id/stream", analyze.Stream)
		api.DELETE("/tasks/:id", analyze.Cancel)

		api.GET("/quota/:provider", health.Quota)
		api.POST("/quota/:provider/reset", health.QuotaReset)
		api.GET("/providers/health", health.Providers)
		api.POST("/providers/:provider/primary", health.SwitchPrimary)
		api.DELETE("/degradation/:type", health.DegradationClear)
	}

	return r
}

// Server owns the http.Server lifecycle.
type Server struct {
	http *http.Server
}

func NewServer(cfg *config.Config, router *gin.Engine) *Server {
	return &Server{
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	slog.Info("http_server_started", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
