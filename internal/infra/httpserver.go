package infra

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPServer owns the API listener. Server-level errors (TLS handshakes,
// hijack failures) go to the structured logger instead of stderr.
type HTTPServer struct {
	server *http.Server
	logger zerolog.Logger
}

// NewHTTPServer builds the API server. Requests inherit base, so cancelling it
// aborts in-flight handlers and WebSocket streams on shutdown.
func NewHTTPServer(base context.Context, cfg *Config, handler http.Handler, logger zerolog.Logger) *HTTPServer {
	logger = logger.With().Str("component", "http_server").Logger()
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ErrorLog:          log.New(logger.Level(zerolog.WarnLevel), "", 0),
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	return &HTTPServer{server: srv, logger: logger}
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers to return.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
