package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"trade-signal-pipeline/internal/config"
)

// Server wraps the echo instance serving Handler.
type Server struct {
	echo *echo.Echo
	cfg  config.ServerConfig
	log  zerolog.Logger
}

// NewServer creates a server with recovery and request logging.
func NewServer(h *Handler, cfg config.ServerConfig, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(recoverMiddleware(log))
	e.Use(requestLogging(log))
	h.RegisterRoutes(e)

	return &Server{echo: e, cfg: cfg, log: log}
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info().Msg("http server stopped")
	return nil
}
