package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/persistence"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

const (
	DefaultSweepInterval  = time.Minute
	DefaultSweepBatchSize = 100
	DefaultSweepWorkers   = 8

	releaseTimeout = 5 * time.Second
)

// RunResumer continues a run after its delay.
type RunResumer interface {
	Resume(ctx context.Context, runID string) error
}

// Sweeper periodically resumes waiting runs whose resume time has passed.
type Sweeper struct {
	runs      persistence.RunRepository
	resumer   RunResumer
	clock     clock.PassiveClock
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	workers   int

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

type SweeperOption func(*Sweeper)

func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithSweepBatchSize(size int) SweeperOption {
	return func(s *Sweeper) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithSweepWorkers bounds how many runs one pass resumes concurrently.
func WithSweepWorkers(workers int) SweeperOption {
	return func(s *Sweeper) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

func NewSweeper(
	runs persistence.RunRepository,
	resumer RunResumer,
	clk clock.PassiveClock,
	logger *slog.Logger,
	opts ...SweeperOption,
) *Sweeper {
	s := &Sweeper{
		runs:      runs,
		resumer:   resumer,
		clock:     clk,
		logger:    logger.With("module", "sweeper"),
		interval:  DefaultSweepInterval,
		batchSize: DefaultSweepBatchSize,
		workers:   DefaultSweepWorkers,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start schedules a pass every interval until Stop or ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		_, err := s.SweepOnce(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Sweep failed", "error", err)
		}
	})
	if err != nil {
		cancel()

		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}

	c.Start()

	s.cron = c
	s.cancel = cancel

	s.logger.InfoContext(ctx, "Sweeper started", "interval", s.interval)

	return nil
}

// Stop cancels the schedule and waits for a running pass to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}

	s.cancel()
	<-s.cron.Stop().Done()

	s.cron = nil
	s.logger.Info("Sweeper stopped")
}

// SweepOnce resumes every run due now and returns how many runs this
// process claimed. Runs claimed by another sweeper are skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()

	due, err := s.runs.DueWaiting(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due runs: %w", err)
	}

	if len(due) == 0 {
		return 0, nil
	}

	s.logger.DebugContext(ctx, "Resuming due runs", "count", len(due))

	var (
		mu      sync.Mutex
		claimed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, run := range due {
		g.Go(func() error {
			ok := s.resume(gctx, run, now)
			if ok {
				mu.Lock()
				claimed++
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	return claimed, nil
}

func (s *Sweeper) resume(ctx context.Context, run *models.WorkflowRun, now time.Time) bool {
	logger := s.logger.With("run_id", run.ID, "workflow_id", run.WorkflowID)

	run.Status = models.RunStatusRunning
	run.UpdatedAt = now

	swapped, err := s.runs.CompareAndSwap(ctx, run, models.RunStatusWaiting)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to claim waiting run", "error", err)

		return false
	}

	if !swapped {
		logger.DebugContext(ctx, "Waiting run claimed elsewhere")

		return false
	}

	err = s.resumer.Resume(ctx, run.ID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to resume run", "error", err)
		s.release(ctx, run.ID, now, logger)
	}

	return true
}

// release hands a run whose resume failed back to the next sweep. It uses a
// detached context so a shutdown mid-resume still releases the run.
func (s *Sweeper) release(ctx context.Context, runID string, now time.Time, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to reload run for release", "error", err)

		return
	}

	if run.Status != models.RunStatusRunning {
		return
	}

	run.Status = models.RunStatusWaiting
	run.UpdatedAt = s.clock.Now().UTC()

	if run.ResumeAt == nil {
		run.ResumeAt = &now
	}

	swapped, err := s.runs.CompareAndSwap(ctx, run, models.RunStatusRunning)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to release run", "error", err)

		return
	}

	if swapped {
		logger.InfoContext(ctx, "Run released for the next sweep", "step_id", run.CurrentStepID)
	}
}
