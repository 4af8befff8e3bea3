// Package scheduler drives time-based workflow runs: a fixed-interval poll of
// due workflows plus daily and hourly sweeps of recurring trigger types.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/marketflow/pkg/metrics"
	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/dukex/marketflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultPollInterval    = time.Minute
	DefaultDailySweepCron  = "0 9 * * *"
	DefaultHourlySweepCron = "0 * * * *"
)

var (
	// DailySweepTriggers are re-evaluated once a day.
	DailySweepTriggers = []models.TriggerType{models.TriggerBirthday, models.TriggerFirstVisitAnniversary}

	// HourlySweepTriggers are re-evaluated every hour.
	HourlySweepTriggers = []models.TriggerType{models.TriggerVisitCycle, models.TriggerChurnRiskHigh}
)

// Runner runs one workflow against its filtered customers.
type Runner interface {
	Run(ctx context.Context, workflow *models.Workflow, source models.ExecutionSource) (*models.WorkflowExecution, error)
}

type Config struct {
	PollInterval    time.Duration
	DailySweepCron  string
	HourlySweepCron string
	// Location is the time zone the sweep cron specs are evaluated in.
	Location *time.Location
	// Parallelism is how many distinct workflows may run at once; below 2 runs sequentially.
	Parallelism int
}

type Scheduler struct {
	workflows persistence.WorkflowRepository
	runner    Runner
	clock     clockwork.Clock
	logger    *slog.Logger
	config    Config

	daily  *models.Sweep
	hourly *models.Sweep

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(
	workflows persistence.WorkflowRepository,
	runner Runner,
	clock clockwork.Clock,
	logger *slog.Logger,
	config Config,
) (*Scheduler, error) {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	if config.DailySweepCron == "" {
		config.DailySweepCron = DefaultDailySweepCron
	}

	if config.HourlySweepCron == "" {
		config.HourlySweepCron = DefaultHourlySweepCron
	}

	if config.Location == nil {
		config.Location = time.UTC
	}

	now := clock.Now()

	daily, err := models.NewSweep("daily", config.DailySweepCron, config.Location, now, DailySweepTriggers...)
	if err != nil {
		return nil, fmt.Errorf("invalid daily sweep cron %q: %w", config.DailySweepCron, err)
	}

	hourly, err := models.NewSweep("hourly", config.HourlySweepCron, config.Location, now, HourlySweepTriggers...)
	if err != nil {
		return nil, fmt.Errorf("invalid hourly sweep cron %q: %w", config.HourlySweepCron, err)
	}

	return &Scheduler{
		workflows: workflows,
		runner:    runner,
		clock:     clock,
		logger:    logger.With("module", "scheduler"),
		config:    config,
		daily:     daily,
		hourly:    hourly,
	}, nil
}

// Start launches the poll loop and both sweep loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}

	s.logger.InfoContext(ctx, "Starting scheduler",
		"poll_interval", s.config.PollInterval,
		"daily_sweep_due_at", s.daily.NextDueAt,
		"hourly_sweep_due_at", s.hourly.NextDueAt,
	)

	s.stopCh = make(chan struct{})
	s.started = true

	s.wg.Add(3)

	go s.pollLoop(ctx)
	go s.sweepLoop(ctx, s.daily)
	go s.sweepLoop(ctx, s.hourly)
}

// Stop halts the loops and waits for the runs in progress.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()

	if !s.started {
		s.mu.Unlock()

		return
	}

	s.logger.InfoContext(ctx, "Stopping scheduler")
	close(s.stopCh)
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Poll(ctx)
		}
	}
}

// sweepLoop owns sweep.NextDueAt; nothing else advances it.
func (s *Scheduler) sweepLoop(ctx context.Context, sweep *models.Sweep) {
	defer s.wg.Done()

	for {
		timer := s.clock.NewTimer(sweep.NextDueAt.Sub(s.clock.Now()))

		select {
		case <-s.stopCh:
			timer.Stop()

			return
		case <-ctx.Done():
			timer.Stop()

			return
		case <-timer.Chan():
			now := s.clock.Now()
			if !sweep.IsDue(now) {
				continue
			}

			s.runSweep(ctx, sweep)
			sweep.Advance(now)
		}
	}
}

// Poll runs every executable time-driven workflow whose NextScheduledAt has
// elapsed and returns how many runs were started.
func (s *Scheduler) Poll(ctx context.Context) int {
	metrics.SchedulerRunsTotal.WithLabelValues("poll").Inc()

	due, err := s.workflows.FindScheduled(ctx, s.clock.Now())
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to find scheduled workflows", "error", err)

		return 0
	}

	due = slices.DeleteFunc(due, func(wf *models.Workflow) bool {
		if wf.TriggerType.TimeDriven() {
			return false
		}

		s.logger.WarnContext(ctx, "Ignoring schedule of event-driven workflow", "workflow_id", wf.ID, "trigger_type", wf.TriggerType)

		return true
	})

	if len(due) > 0 {
		s.logger.InfoContext(ctx, "Processing due workflows", "count", len(due))
	}

	return s.runAll(ctx, due, models.SourceSchedule)
}

// DailySweep re-evaluates every active birthday and anniversary workflow.
func (s *Scheduler) DailySweep(ctx context.Context) int {
	return s.runSweep(ctx, s.daily)
}

// HourlySweep re-evaluates every active visit-cycle and churn-risk workflow.
func (s *Scheduler) HourlySweep(ctx context.Context) int {
	return s.runSweep(ctx, s.hourly)
}

func (s *Scheduler) runSweep(ctx context.Context, sweep *models.Sweep) int {
	metrics.SchedulerRunsTotal.WithLabelValues(sweep.Name).Inc()

	var candidates []*models.Workflow

	for _, triggerType := range sweep.TriggerTypes {
		found, err := s.workflows.FindByTriggerType(ctx, triggerType)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to load workflows for sweep",
				"sweep", sweep.Name,
				"trigger_type", triggerType,
				"error", err,
			)

			continue
		}

		candidates = append(candidates, found...)
	}

	s.logger.InfoContext(ctx, "Running sweep", "sweep", sweep.Name, "workflows", len(candidates))

	return s.runAll(ctx, candidates, models.SourceSweep)
}

// runAll runs each distinct workflow once, at most Parallelism at a time.
func (s *Scheduler) runAll(ctx context.Context, workflows []*models.Workflow, source models.ExecutionSource) int {
	var (
		mu      sync.Mutex
		started int
		wg      sync.WaitGroup
	)

	slots := make(chan struct{}, max(s.config.Parallelism, 1))
	seen := make(map[string]struct{}, len(workflows))

	for _, wf := range workflows {
		if _, ok := seen[wf.ID]; ok {
			continue
		}

		seen[wf.ID] = struct{}{}

		if ctx.Err() != nil {
			break
		}

		slots <- struct{}{}

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer func() { <-slots }()

			if s.runOne(ctx, wf, source) {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	return started
}

func (s *Scheduler) runOne(ctx context.Context, wf *models.Workflow, source models.ExecutionSource) (ran bool) {
	logger := s.logger.With("workflow_id", wf.ID, "source", source)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Workflow run panicked", "panic", fmt.Sprint(r))
		}
	}()

	execution, err := s.runner.Run(ctx, wf, source)

	switch {
	case errors.Is(err, workflow.ErrAlreadyRunning):
		logger.InfoContext(ctx, "Workflow already running, skipped")
	case err != nil:
		logger.ErrorContext(ctx, "Workflow run failed", "error", err)
	}

	return execution != nil
}
