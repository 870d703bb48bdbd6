// Package workers runs background processing for the triage service.
package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/relief/pkg/logging"
	"github.com/otherjamesbrown/relief/pkg/triage/pipeline"
)

// WorkerStatus represents the worker's current status.
type WorkerStatus string

const (
	WorkerStatusStarting  WorkerStatus = "starting"
	WorkerStatusHealthy   WorkerStatus = "healthy"
	WorkerStatusUnhealthy WorkerStatus = "unhealthy"
	WorkerStatusDraining  WorkerStatus = "draining"
	WorkerStatusStopped   WorkerStatus = "stopped"
)

// ErrAlreadyStarted is returned by Start on a running sweeper.
var ErrAlreadyStarted = errors.New("sweeper already started")

// BatchProcessor processes every pending report.
type BatchProcessor interface {
	ProcessAll(ctx context.Context) (pipeline.BatchResult, error)
}

// StaleRecoverer fails reports whose Processing claim has gone stale.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error)
}

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	Interval        time.Duration `yaml:"interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// StaleAfter enables stale-claim recovery before each sweep when the
	// processor is a StaleRecoverer. Zero disables it.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// DefaultSweeperConfig returns the default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:        30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Sweeper periodically processes Pending reports so new intake is picked
// up without a manual batch run.
type Sweeper struct {
	ID        string
	Config    SweeperConfig
	processor BatchProcessor
	logger    logging.Logger

	mu        sync.RWMutex
	status    WorkerStatus
	startedAt time.Time
	lastRun   time.Time

	// Metrics
	Runs      atomic.Int64
	Attempted atomic.Int64
	Failures  atomic.Int64
	Recovered atomic.Int64

	// Control
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a stopped sweeper.
func NewSweeper(processor BatchProcessor, cfg SweeperConfig, logger logging.Logger) *Sweeper {
	defaults := DefaultSweeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	id := uuid.New().String()
	return &Sweeper{
		ID:        id,
		Config:    cfg,
		processor: processor,
		logger:    logger.With(logging.F("component", "sweeper"), logging.F("worker_id", id)),
		status:    WorkerStatusStarting,
	}
}

// Start runs a sweep immediately and then on every interval until ctx is
// cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.startedAt = time.Now()
	s.status = WorkerStatusHealthy
	s.mu.Unlock()

	s.logger.Info("Sweeper started", logging.F("interval", s.Config.Interval.String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits up to ShutdownTimeout for the current
// sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	if cancel == nil {
		s.status = WorkerStatusStopped
		s.mu.Unlock()
		return
	}
	s.status = WorkerStatusDraining
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.Config.ShutdownTimeout):
		s.logger.Warn("Sweeper did not drain before shutdown timeout")
	}

	s.setStatus(WorkerStatusStopped)
	s.logger.Info("Sweeper stopped",
		logging.F("runs", s.Runs.Load()),
		logging.F("attempted", s.Attempted.Load()),
		logging.F("failures", s.Failures.Load()))
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.recoverStale(ctx)

	result, err := s.processor.ProcessAll(ctx)

	s.Runs.Add(1)
	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.Failures.Add(1)
		s.setStatus(WorkerStatusUnhealthy)
		s.logger.Error("Sweep failed", logging.Err(err))
		return
	}

	s.Attempted.Add(int64(result.Attempted))
	s.Failures.Add(int64(result.Failed))
	s.setStatus(WorkerStatusHealthy)
}

func (s *Sweeper) recoverStale(ctx context.Context) {
	recoverer, ok := s.processor.(StaleRecoverer)
	if !ok || s.Config.StaleAfter <= 0 {
		return
	}
	n, err := recoverer.RecoverStale(ctx, s.Config.StaleAfter)
	s.Recovered.Add(int64(n))
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("Stale claim recovery failed", logging.Err(err))
	}
}

func (s *Sweeper) setStatus(status WorkerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Draining and Stopped are only left through Start.
	if s.status == WorkerStatusStopped || (s.status == WorkerStatusDraining && status != WorkerStatusStopped) {
		return
	}
	s.status = status
}

// Status returns the current status.
func (s *Sweeper) Status() WorkerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SweeperStats is a point-in-time view of a Sweeper.
type SweeperStats struct {
	ID        string       `json:"id"`
	Status    WorkerStatus `json:"status"`
	StartedAt time.Time    `json:"started_at"`
	LastRun   time.Time    `json:"last_run"`
	Runs      int64        `json:"runs"`
	Attempted int64        `json:"attempted"`
	Failures  int64        `json:"failures"`
	Recovered int64        `json:"recovered"`
}

// Stats returns the sweeper's counters.
func (s *Sweeper) Stats() SweeperStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SweeperStats{
		ID:        s.ID,
		Status:    s.status,
		StartedAt: s.startedAt,
		LastRun:   s.lastRun,
		Runs:      s.Runs.Load(),
		Attempted: s.Attempted.Load(),
		Failures:  s.Failures.Load(),
		Recovered: s.Recovered.Load(),
	}
}
