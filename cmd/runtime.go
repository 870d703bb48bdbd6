// Package cmd provides CLI commands for the relief tool.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/relief/config"
	"github.com/otherjamesbrown/relief/credentials"
	"github.com/otherjamesbrown/relief/pkg/db"
	"github.com/otherjamesbrown/relief/pkg/logging"
	"github.com/otherjamesbrown/relief/pkg/triage"
	"github.com/otherjamesbrown/relief/pkg/triage/classification"
	"github.com/otherjamesbrown/relief/pkg/triage/extraction"
	"github.com/otherjamesbrown/relief/pkg/triage/observability"
	"github.com/otherjamesbrown/relief/pkg/triage/pipeline"
	"github.com/otherjamesbrown/relief/pkg/triage/service"
)

// Runtime is the wired triage stack a command operates on.
type Runtime struct {
	Config   *config.Config
	Logger   logging.Logger
	Registry *prometheus.Registry
	Pipeline *pipeline.Pipeline
	Service  *service.Service

	// Pool is nil when reports are held in memory.
	Pool *pgxpool.Pool

	closers []func() error
}

// Close releases the runtime's connections.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServiceCommandDeps holds the dependencies for commands that operate on
// reports.
type ServiceCommandDeps struct {
	Config      *config.Config
	LoadConfig  func() (*config.Config, error)
	OpenRuntime func(context.Context, *config.Config) (*Runtime, error)
}

// DefaultServiceDeps returns the default dependencies for production use.
func DefaultServiceDeps() *ServiceCommandDeps {
	return &ServiceCommandDeps{
		LoadConfig:  config.LoadConfig,
		OpenRuntime: OpenRuntime,
	}
}

// open loads config and builds the runtime.
func (d *ServiceCommandDeps) open(ctx context.Context) (*Runtime, error) {
	cfg, err := d.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	d.Config = cfg

	rt, err := d.OpenRuntime(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing triage service: %w", err)
	}
	return rt, nil
}

// NewLogger builds the CLI logger from cfg. Logs go to stderr.
func NewLogger(cfg *config.Config) logging.Logger {
	level := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Debug {
		level = logging.LevelDebug
	}
	return logging.NewLogger(&logging.Config{
		Level:       level,
		ServiceName: "relief",
		Environment: "cli",
		JSONFormat:  cfg.Logging.JSON,
		Output:      os.Stderr,
	})
}

// OpenRuntime connects the stores named by cfg and wires the pipeline.
func OpenRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	logger := NewLogger(cfg)
	cfg, apiKey := storedSecrets(cfg, logger)
	rt := &Runtime{Config: cfg, Logger: logger}

	var repo triage.Repository
	if cfg.Database.IsConfigured() {
		pool, err := db.Connect(ctx, cfg.Database.DBConfig(), db.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		rt.Pool = pool
		rt.closers = append(rt.closers, func() error { db.Close(pool); return nil })
		repo = triage.NewPostgresRepository(pool, logger)
	} else {
		logger.Warn("No database configured; reports are kept in memory for this process only")
		repo = triage.NewMemoryRepository()
	}

	classifier, err := newClassifier(cfg, apiKey, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	var publisher observability.EventPublisher
	if cfg.Redis.Enabled {
		pub, err := observability.NewRedisPublisherFromConfig(ctx, observability.RedisConfig{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			// Events are advisory; processing continues without them.
			logger.Warn("Event publishing disabled", logging.Err(err))
		} else {
			publisher = pub
			rt.closers = append(rt.closers, pub.Close)
		}
	}

	rt.wire(repo, classifier, publisher)
	return rt, nil
}

// NewMemoryRuntime wires an in-memory runtime with the rule classifier.
func NewMemoryRuntime(cfg *config.Config, logger logging.Logger) *Runtime {
	rt := &Runtime{Config: cfg, Logger: logger}
	rt.wire(triage.NewMemoryRepository(), classification.NewRuleClassifier(), nil)
	return rt
}

func (r *Runtime) wire(repo triage.Repository, classifier classification.Classifier, publisher observability.EventPublisher) {
	r.Registry = prometheus.NewRegistry()
	r.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewPipelineMetrics(r.Registry)

	r.Pipeline = pipeline.New(repo, classifier,
		extraction.New(extraction.WithLogger(r.Logger)),
		pipeline.WithLogger(r.Logger),
		pipeline.WithMetrics(metrics),
		pipeline.WithTracer(observability.NewTracer()),
		pipeline.WithPublisher(publisher),
	)
	r.Service = service.New(r.Pipeline,
		service.Config{MaxConcurrency: r.Config.Pipeline.MaxConcurrency},
		service.WithLogger(r.Logger),
		service.WithMetrics(metrics),
		service.WithPublisher(publisher),
	)
}

// storedSecrets fills secrets missing from cfg with those in the
// credentials store. The store is only opened when something is missing.
// It returns a copy of cfg and the classifier API key.
func storedSecrets(cfg *config.Config, logger logging.Logger) (*config.Config, string) {
	out := *cfg
	apiKey := os.Getenv(credentials.ClassifierAPIKeyEnv)

	needKey := cfg.Classifier.Backend == classification.BackendRemote && apiKey == ""
	needDB := cfg.Database.IsConfigured() && cfg.Database.URL == "" && cfg.Database.Password == ""
	needRedis := cfg.Redis.Enabled && cfg.Redis.Password == ""
	if !needKey && !needDB && !needRedis {
		return &out, apiKey
	}

	store, err := credentials.NewStore()
	if err != nil {
		logger.Warn("Could not open credential store", logging.Err(err))
		return &out, apiKey
	}
	creds, err := store.Load()
	switch {
	case errors.Is(err, credentials.ErrNoCredentials):
		logger.Debug("No stored credentials")
		return &out, apiKey
	case err != nil:
		logger.Warn("Could not read stored credentials", logging.Err(err))
		return &out, apiKey
	}

	if needKey {
		apiKey = creds.ClassifierAPIKey
	}
	if needDB {
		out.Database.Password = creds.DatabasePassword
	}
	if needRedis {
		out.Redis.Password = creds.RedisPassword
	}
	return &out, apiKey
}

// newClassifier builds the configured classifier. A remote backend without
// an API key sends requests unauthenticated.
func newClassifier(cfg *config.Config, apiKey string, logger logging.Logger) (classification.Classifier, error) {
	if cfg.Classifier.Backend == classification.BackendRemote && apiKey == "" {
		logger.Debug("No classifier API key configured")
	}
	classifier, err := classification.New(cfg.Classifier.ClassificationConfig(apiKey), logger)
	if err != nil {
		return nil, fmt.Errorf("creating classifier: %w", err)
	}
	return classifier, nil
}

// writeOutput renders v as JSON or YAML, or calls text for text output.
func writeOutput(w io.Writer, format config.OutputFormat, v interface{}, text func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return text(w)
	}
}

// truncateString shortens s to maxLen runes, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// ANSI color codes for text output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
)

func colorize(color, s string) string {
	return color + s + colorReset
}
