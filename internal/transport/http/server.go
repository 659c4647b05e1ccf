package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradeguard/internal/logger"
)

// Server 提供运维 HTTP 服务（信号决策 + 状态查询）。
type Server struct {
	addr   string
	router *gin.Engine
}

func NewServer(addr string, r *Router) *Server {
	if addr == "" {
		addr = ":9981"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", r.handleHealthz)
	r.Register(router.Group("/api"))

	return &Server{addr: addr, router: router}
}

// Handler exposes the underlying mux for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx ends, then drains with a short grace period.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("http: listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debugf("[api] %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(),
			time.Since(started).Truncate(time.Millisecond))
	}
}
