// Package adminapi exposes the engine over HTTP for operators and for
// external event sources.
package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"referral-bot/internal/engine"
	"referral-bot/internal/logging"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	// Token is the bearer token for /api and /webhook routes. An empty token
	// rejects every authenticated request.
	Token string
	// AllowedCIDRs limits client addresses. Empty means any address.
	AllowedCIDRs []string
}

type Server struct {
	engine *engine.Engine
	cfg    Config
	router *gin.Engine
}

func NewServer(e *engine.Engine, cfg Config) *Server {
	s := &Server{engine: e, cfg: cfg}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies(nil)
	r.Use(gin.Recovery(), requestLogger(), observe(), allowCIDRs(s.cfg.AllowedCIDRs))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/", bearerToken(s.cfg.Token))
	authed.POST("/webhook/events", s.handleEvent)

	api := authed.Group("/api")
	api.GET("/withdrawals/pending", s.listPending)
	api.POST("/withdrawals/:id/approve", s.approve)
	api.POST("/withdrawals/:id/reject", s.reject)
	api.POST("/checks", s.createCheck)
	api.GET("/checks", s.listChecks)
	api.GET("/checks/:code", s.getCheck)
	api.POST("/checks/:code/deactivate", s.deactivateCheck)
	api.GET("/accounts/:id", s.getAccount)
	api.GET("/accounts/:id/transactions", s.getTransactions)
	return r
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Admin API listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
