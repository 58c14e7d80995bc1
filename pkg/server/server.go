// Package server exposes the memory subsystem over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenttown/recall/pkg/config"
	"github.com/agenttown/recall/pkg/log"
	"github.com/agenttown/recall/pkg/recall"
)

// Server wraps the gin router around a recall client.
type Server struct {
	client *recall.Client
	cfg    config.ServerConfig
	router *gin.Engine
}

// New creates the HTTP server and registers all routes.
func New(client *recall.Client, cfg config.ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		client: client,
		cfg:    cfg,
		router: router,
	}
	s.registerRoutes()
	return s
}

// Router returns the underlying handler, used by tests and embedders.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", s.cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info("HTTP server shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.health)
	s.router.POST("/admin/reprobe", s.reprobe)

	memory := s.router.Group("/memory")
	{
		memory.GET("", s.listAgents)
		memory.POST("/:agent_id", s.createMemory)
		memory.POST("/:agent_id/query", s.queryMemories)
		memory.GET("/:agent_id", s.listMemories)
		memory.DELETE("/:agent_id", s.clearMemories)
		memory.GET("/:agent_id/:memory_id", s.getMemory)
		memory.PATCH("/:agent_id/:memory_id", s.updateMetadata)
		memory.DELETE("/:agent_id/:memory_id", s.deleteMemory)
	}
}

// requestLogger emits one structured line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
