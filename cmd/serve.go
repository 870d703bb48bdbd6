package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/otherjamesbrown/relief/pkg/buildinfo"
	"github.com/otherjamesbrown/relief/pkg/db"
	"github.com/otherjamesbrown/relief/pkg/logging"
	"github.com/otherjamesbrown/relief/pkg/triage/pipeline"
	"github.com/otherjamesbrown/relief/pkg/triage/workers"
)

// SweeperHealthService is the gRPC health service name that tracks the
// background sweeper.
const SweeperHealthService = "relief.Sweeper"

const serviceName = "relief"

type serveOptions struct {
	metricsAddr string
	grpcAddr    string
	interval    time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(deps *ServiceCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultServiceDeps()
	}
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Process Pending reports continuously",
		Long: `Run the triage sweeper until interrupted.

Every sweep interval, all Pending reports are processed as one batch. The
command also serves:
  /metrics   Prometheus metrics
  /healthz   database and sweeper health as JSON
  /version   build information
and a gRPC health service on the gRPC address.`,
		Example: `  relief serve
  relief serve --interval 10s --metrics-addr :9100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), deps, opts, cmd.Flags())
		},
	}

	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "HTTP listen address (default: server.metrics_address)")
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc-addr", "", "gRPC health listen address (default: server.grpc_address)")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Sweep interval (default: pipeline.sweep_interval)")
	return cmd
}

type flagSet interface {
	Changed(name string) bool
}

func runServe(ctx context.Context, out io.Writer, deps *ServiceCommandDeps, opts *serveOptions, flags flagSet) error {
	rt, err := deps.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.Config
	sc := ServerConfig{
		MetricsAddress:  cfg.Server.MetricsAddress,
		GRPCAddress:     cfg.Server.GRPCAddress,
		SweepInterval:   cfg.Pipeline.SweepInterval,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	if flags.Changed("metrics-addr") {
		sc.MetricsAddress = opts.metricsAddr
	}
	if flags.Changed("grpc-addr") {
		sc.GRPCAddress = opts.grpcAddr
	}
	if flags.Changed("interval") {
		if opts.interval <= 0 {
			return fmt.Errorf("--interval must be positive")
		}
		sc.SweepInterval = opts.interval
	}

	srv, err := NewServer(rt, sc)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Serving metrics on %s and gRPC health on %s (sweep every %s)\n",
		srv.MetricsAddr(), srv.GRPCAddr(), sc.SweepInterval)

	<-ctx.Done()
	return srv.Shutdown()
}

// ServerConfig configures a Server.
type ServerConfig struct {
	MetricsAddress  string
	GRPCAddress     string
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration
}

// Server runs the sweeper with its HTTP and gRPC endpoints.
type Server struct {
	rt      *Runtime
	cfg     ServerConfig
	logger  logging.Logger
	sweeper *workers.Sweeper

	httpServer *http.Server
	httpLn     net.Listener
	grpcServer *grpc.Server
	grpcLn     net.Listener
	health     *health.Server

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
	cancel   context.CancelFunc
}

// NewServer wires the sweeper and endpoints over rt.
func NewServer(rt *Runtime, cfg ServerConfig) (*Server, error) {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	runner := pipeline.NewRunner(rt.Pipeline, pipeline.RunnerConfig{
		MaxConcurrency: rt.Config.Pipeline.MaxConcurrency,
		Trigger:        pipeline.TriggerSweeper,
	})

	s := &Server{
		rt:     rt,
		cfg:    cfg,
		logger: rt.Logger.With(logging.F("component", "server")),
		sweeper: workers.NewSweeper(runner, workers.SweeperConfig{
			Interval:        cfg.SweepInterval,
			ShutdownTimeout: cfg.ShutdownTimeout,
			StaleAfter:      rt.Config.Pipeline.StaleAfter,
		}, rt.Logger),
		health: health.NewServer(),
	}

	if rt.Pool != nil {
		if _, err := db.RegisterPoolCollector(rt.Registry, rt.Pool, "relief", serviceName); err != nil {
			return nil, fmt.Errorf("registering pool metrics: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/version", buildinfo.Handler(serviceName))
	mux.HandleFunc("/healthz", s.handleHealth)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)

	return s, nil
}

// Sweeper returns the background sweeper.
func (s *Server) Sweeper() *workers.Sweeper {
	return s.sweeper
}

// MetricsAddr returns the bound HTTP address once started.
func (s *Server) MetricsAddr() string {
	if s.httpLn == nil {
		return s.cfg.MetricsAddress
	}
	return s.httpLn.Addr().String()
}

// GRPCAddr returns the bound gRPC address once started.
func (s *Server) GRPCAddr() string {
	if s.grpcLn == nil {
		return s.cfg.GRPCAddress
	}
	return s.grpcLn.Addr().String()
}

// Start binds the listeners and starts the sweeper.
func (s *Server) Start(ctx context.Context) error {
	var err error
	s.httpLn, err = net.Listen("tcp", s.cfg.MetricsAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.MetricsAddress, err)
	}
	s.grpcLn, err = net.Listen("tcp", s.cfg.GRPCAddress)
	if err != nil {
		s.httpLn.Close()
		return fmt.Errorf("listening on %s: %w", s.cfg.GRPCAddress, err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	if err := s.sweeper.Start(ctx); err != nil {
		s.cancel()
		s.httpLn.Close()
		s.grpcLn.Close()
		return fmt.Errorf("starting sweeper: %w", err)
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(SweeperHealthService, healthpb.HealthCheckResponse_SERVING)

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", logging.Err(err))
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.grpcServer.Serve(s.grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("gRPC server stopped", logging.Err(err))
		}
	}()
	go func() {
		defer s.wg.Done()
		s.watchSweeper(ctx)
	}()

	s.logger.Info("Server started",
		logging.F("metrics_addr", s.MetricsAddr()),
		logging.F("grpc_addr", s.GRPCAddr()),
		logging.F("sweep_interval", s.cfg.SweepInterval.String()),
		logging.F("version", buildinfo.String()))
	return nil
}

// watchSweeper mirrors the sweeper's status into the gRPC health service.
func (s *Server) watchSweeper(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_SERVING
			if s.sweeper.Status() == workers.WorkerStatusUnhealthy {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			s.health.SetServingStatus(SweeperHealthService, status)
		}
	}
}

// Shutdown drains the sweeper and stops both servers. It is safe to call
// more than once.
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() {
		s.logger.Info("Server shutting down")
		s.health.Shutdown()
		s.sweeper.Stop()
		if s.cancel != nil {
			s.cancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.stopErr = s.httpServer.Shutdown(ctx)

		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}

		s.wg.Wait()
		s.logger.Info("Server stopped", logging.F("sweeps", s.sweeper.Stats().Runs))
	})
	return s.stopErr
}

type healthResponse struct {
	Status   string               `json:"status"`
	Version  string               `json:"version"`
	Database *databaseHealth      `json:"database,omitempty"`
	Sweeper  workers.SweeperStats `json:"sweeper"`
}

type databaseHealth struct {
	Healthy       bool   `json:"healthy"`
	LatencyMs     int64  `json:"latency_ms"`
	SchemaVersion string `json:"schema_version"`
	Error         string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: buildinfo.Version,
		Sweeper: s.sweeper.Stats(),
	}

	if s.rt.Pool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		check := db.Check(ctx, s.rt.Pool)
		dh := &databaseHealth{
			Healthy:       check.Healthy,
			LatencyMs:     check.Latency.Milliseconds(),
			SchemaVersion: check.SchemaVersion,
		}
		switch {
		case check.Error != nil:
			dh.Error = check.Error.Error()
			resp.Status = "degraded"
		case check.SchemaVersion == "":
			dh.Error = "schema not migrated; run 'relief db migrate'"
			resp.Status = "degraded"
		}
		resp.Database = dh
	}
	if resp.Sweeper.Status == workers.WorkerStatusUnhealthy {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
