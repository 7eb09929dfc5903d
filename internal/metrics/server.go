package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ethergo-sdk/logstream/internal/logger"
	"github.com/ethergo-sdk/logstream/pkg/config"
)

// Server exposes the Prometheus scrape endpoint and a health check.
type Server struct {
	config *config.MetricsConfig
	log    *logger.Logger
	server *http.Server
	stopCh chan struct{}
}

// NewServer creates a metrics server. It does nothing until Start.
func NewServer(cfg *config.MetricsConfig, log *logger.Logger) *Server {
	return &Server{
		config: cfg,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Start begins serving scrapes and refreshing system metrics. A disabled
// config makes Start a no-op.
func (s *Server) Start(ctx context.Context) error {
	if s.config == nil || !s.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(s.config.Path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.server = &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go s.updateSystemMetrics(ctx)

	go func() {
		s.log.Infow("metrics server listening", "address", s.config.ListenAddress, "path", s.config.Path)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("metrics server failed", "err", err)
		}
	}()

	return nil
}

// Stop shuts the scrape endpoint down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	close(s.stopCh)
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down metrics server: %w", err)
	}
	return nil
}

func (s *Server) updateSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			UpdateSystemMetrics()
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}
