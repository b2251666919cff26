/*
scheduler.go - Yearly allocation scheduler

PURPOSE:
  Gives every member their yearly leave allocation without an admin having
  to call POST /api/admin/balances/bulk on January 1st.

DESIGN:
  - robfig/cron with a standard 5-field expression (default "0 0 1 1 *")
  - Each run calls leave.Service.BulkAllocate for the current year as the
    System actor
  - BulkAllocate skips entries that already exist, so a run that overlaps
    a manual allocation or a restart changes nothing twice
  - The last run is kept for the UI and for tests

USAGE:
  scheduler, err := NewAllocationScheduler(service, "0 0 1 1 *", logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: BulkAllocate endpoint (manual run)
  - leave/balances.go: BulkAllocate
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// AllocationRun records the outcome of one scheduled run.
type AllocationRun struct {
	StartedAt time.Time
	Result    *leave.BulkResult
	Err       error
}

// AllocationScheduler runs bulk allocation on a cron schedule.
type AllocationScheduler struct {
	Service  *leave.Service
	Schedule string
	Logger   *zap.Logger
	Now      func() time.Time

	// RunTimeout bounds a single run.
	RunTimeout time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	lastRun *AllocationRun
}

// NewAllocationScheduler validates schedule and returns a stopped scheduler.
func NewAllocationScheduler(service *leave.Service, schedule string, logger *zap.Logger) (*AllocationScheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid allocation schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationScheduler{
		Service:    service,
		Schedule:   schedule,
		Logger:     logger,
		Now:        time.Now,
		RunTimeout: 5 * time.Minute,
	}, nil
}

// Start begins the scheduler.
func (s *AllocationScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.Schedule, func() { s.RunNow(context.Background()) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c

	s.Logger.Info("allocation scheduler started", zap.String("schedule", s.Schedule))
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *AllocationScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.Logger.Info("allocation scheduler stopped")
}

// RunNow allocates for the current year immediately.
func (s *AllocationScheduler) RunNow(ctx context.Context) AllocationRun {
	ctx, cancel := context.WithTimeout(ctx, s.RunTimeout)
	defer cancel()

	run := AllocationRun{StartedAt: s.Now()}
	run.Result, run.Err = s.Service.BulkAllocate(ctx, leave.System, run.StartedAt.Year())
	if run.Err != nil {
		s.Logger.Error("scheduled allocation failed",
			zap.Int("year", run.StartedAt.Year()),
			zap.Error(run.Err),
		)
	}

	s.mu.Lock()
	s.lastRun = &run
	s.mu.Unlock()
	return run
}

// LastRun returns the most recent run, or nil if none happened yet.
func (s *AllocationScheduler) LastRun() *AllocationRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	run := *s.lastRun
	return &run
}
