package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openbuilders/batch-submitter/internal/approval"
	"github.com/openbuilders/batch-submitter/internal/health"
	"github.com/openbuilders/batch-submitter/internal/metrics"
	"github.com/openbuilders/batch-submitter/internal/queue"
	"github.com/openbuilders/batch-submitter/internal/types"
)

// APIHandler is a custom handler type that returns data or an error
type APIHandler func(w http.ResponseWriter, r *http.Request) (interface{}, error)

type JobPublisher interface {
	Publish(ctx context.Context, queueName queue.QueueName, message []byte) error
}

type TagChecker interface {
	TagLocked(ctx context.Context, tag string) (bool, error)
}

type BatchStore interface {
	GetBatch(ctx context.Context, batchID string) (*types.Batch, error)
}

type Approvals interface {
	Pending() []approval.PendingRequest
	Resolve(id uuid.UUID, approved bool) error
}

type HealthReporter interface {
	GetHealthStatus() health.HealthStatus
}

type Dependencies struct {
	Publisher JobPublisher
	Tags      TagChecker
	Batches   BatchStore
	// Approvals is nil when signing is approved by policy.
	Approvals Approvals
	Health    HealthReporter
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

type Server struct {
	config     *Config
	deps       Dependencies
	httpServer *http.Server
	log        *slog.Logger
}

type Config struct {
	ListenAddr   string
	ListenPort   int
	MetricsPort  int
	ProbesPort   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	DBTimeout    time.Duration
	ID           string
}

func NewServer(config *Config, deps Dependencies) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		config: config,
		deps:   deps,
		log:    slog.With("pod", config.ID, "component", "web-server"),
		httpServer: &http.Server{
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// The order of middleware calls is up to bottom, first WithMetrics is
	// called, then WithMethod and so on.
	mux.HandleFunc("/job", WithMetrics(WithMethod(
		WithJSONResponse(s.JobHandler),
		http.MethodPost,
	), s.deps.Metrics, "/job"))

	mux.HandleFunc("/batch", WithMetrics(WithMethod(
		WithJSONResponse(s.BatchHandler),
		http.MethodGet,
	), s.deps.Metrics, "/batch"))

	mux.HandleFunc("/approvals", WithMetrics(WithMethod(
		WithJSONResponse(s.PendingApprovalsHandler),
		http.MethodGet,
	), s.deps.Metrics, "/approvals"))

	mux.HandleFunc("/approval", WithMetrics(WithMethod(
		WithJSONResponse(s.ApprovalHandler),
		http.MethodPost,
	), s.deps.Metrics, "/approval"))

	return mux
}

func (s *Server) probesHandler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", WithMethod(
		WithJSONResponse(s.HealthHandler),
		http.MethodGet,
	))

	mux.Handle("/ready", WithMethod(
		WithJSONResponse(s.ReadinessHandler),
		http.MethodGet,
	))

	return mux
}

func (s *Server) StartProbesAndMetrics() {
	// Expose Prometheus metrics
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
		slog.Info("Serving metrics", "port", s.config.MetricsPort)

		addr := fmt.Sprintf(":%d", s.config.MetricsPort)
		slog.Error("Prometheus HTTP listener failed", "error",
			http.ListenAndServe(addr, mux))
	}()

	// Expose health probes
	go func() {
		slog.Info("Serving health probes", "port", s.config.ProbesPort)

		addr := fmt.Sprintf(":%d", s.config.ProbesPort)
		slog.Error("Health checks HTTP listener failed", "error",
			http.ListenAndServe(addr, s.probesHandler()))
	}()
}

// Start serves the API until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.StartProbesAndMetrics()

	s.httpServer.Handler = http.TimeoutHandler(s.Handler(), s.config.WriteTimeout, "Timeout")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.run(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exiting")

	return nil
}

func (s *Server) run(ctx context.Context) error {
	slog.Info("Starting server", "port", s.config.ListenPort)

	// Use ListenConfig to create a listener with context support
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.config.ListenAddr, s.config.ListenPort))
	if err != nil {
		return fmt.Errorf("error creating listener: %w", err)
	}
	defer listener.Close()

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not start server: %w", err)
	}

	return nil
}

func (s *Server) dbContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := s.config.DBTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return context.WithTimeout(r.Context(), timeout)
}
