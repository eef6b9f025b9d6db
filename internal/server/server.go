// Package server wires the gin.Engine, its middleware, and the HTTP
// server's lifecycle: startup, graceful shutdown, and persisting the
// transcode cache's index on the way out.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kaelberg/audiostream/config"
	"github.com/kaelberg/audiostream/internal/auth"
	"github.com/kaelberg/audiostream/internal/cache"
	"github.com/kaelberg/audiostream/internal/dispatch"
)

// Server owns the gin engine and the underlying http.Server.
type Server struct {
	cfg        *config.Config
	cache      *cache.Cache // nil when caching is disabled
	httpServer *http.Server
}

// securityHeaders adds standard HTTP security headers to every response,
// mitigating clickjacking, MIME-sniffing, XSS reflection, and information
// leakage.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Header("Content-Security-Policy",
			"default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; media-src 'self'; connect-src 'self'; font-src 'self'")
		c.Next()
	}
}

// New builds the gin engine and route table, wrapping it in an http.Server
// ready to Start.
func New(cfg *config.Config, d *dispatch.Dispatcher, a *auth.Auth, cacheForShutdown *cache.Cache) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(securityHeaders())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/media/:collection/*filepath", d.ServeFile)

	api := r.Group("/api")
	{
		api.GET("/collections", d.ListCollections)
		api.GET("/transcodings", d.ListTranscodings)

		api.POST("/admin/login", func(c *gin.Context) {
			var req struct {
				Username string `json:"username" binding:"required"`
				Password string `json:"password" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid request body"})
				return
			}
			token, err := a.Authenticate(req.Username, req.Password)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "invalid credentials"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "ok", "token": token})
		})

		admin := api.Group("/admin")
		admin.Use(auth.GinRequired(a))
		{
			admin.POST("/cache/purge", d.PurgeCache)
			admin.POST("/collections/reload", d.ReloadCollections)
		}
	}

	return &Server{
		cfg:   cfg,
		cache: cacheForShutdown,
		httpServer: &http.Server{
			Addr:           ":" + cfg.Port,
			Handler:        r,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   0, // no timeout: responses stream indefinitely
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
	}
}

// Handler returns the underlying http.Handler, for tests that want to
// drive requests without binding a real port.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until ctx is canceled, then shuts it down
// gracefully within the configured grace period and persists the cache
// index before returning.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		slog.Info("HTTP server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		grace := time.Duration(s.cfg.ShutdownGraceMillis) * time.Millisecond
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		err := s.httpServer.Shutdown(shutdownCtx)

		if s.cache != nil {
			if saveErr := s.cache.SaveIndex(); saveErr != nil {
				slog.Error("failed to persist cache index on shutdown", "error", saveErr)
			} else {
				slog.Info("cache index persisted on shutdown")
			}
		}

		return err
	}
}
