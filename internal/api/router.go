package api

import (
	"context"
	"errors"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"net/http"
	"time"
)

func NewRouter(h *PollHandler, ws http.HandlerFunc, allowedOrigins []string, l *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(l), cors.New(corsConfig(allowedOrigins)))

	r.GET("/healthz", h.Health)
	r.GET("/ws", gin.WrapF(ws))

	api := r.Group("/api")
	{
		api.GET("/polls", h.ListPolls)
		api.POST("/polls", h.CreatePoll)
		api.GET("/polls/:id", h.GetPoll)
		api.PUT("/polls/:id", h.UpdatePoll)
		api.DELETE("/polls/:id", h.DeletePoll)
		api.POST("/polls/:id/vote", h.Vote)
		api.POST("/polls/:id/close", h.ClosePoll)
	}
	return r
}

func corsConfig(allowedOrigins []string) cors.Config {
	config := cors.Config{
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		AllowWebSockets: true,
		MaxAge:          12 * time.Hour,
	}
	for _, origin := range allowedOrigins {
		if origin == "*" {
			config.AllowAllOrigins = true
			return config
		}
	}
	config.AllowOrigins = allowedOrigins
	return config
}

func requestLogger(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

type Server struct {
	server *http.Server
	l      *zap.Logger
}

func NewServer(port string, handler http.Handler, l *zap.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		l: l,
	}
}

// Run blocks until the server stops. A graceful stop is not an error.
func (s *Server) Run() error {
	s.l.Info("http server is running", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.l.Info("http server is stopping")
	return s.server.Shutdown(ctx)
}
