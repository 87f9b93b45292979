package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"GazetteScanner/internal/domain"
	"GazetteScanner/internal/ports"
)

// Scheduler wires the slot driver to the pipeline and guarantees a
// single active extraction run at a time. A trigger that fires while a
// run is in progress is logged and skipped, never queued.
type Scheduler struct {
	driver     ports.Scheduler
	pipeline   *Pipeline
	location   *time.Location
	runTimeout time.Duration
	logger     *slog.Logger

	running sync.Mutex

	historyMu  sync.Mutex
	history    []domain.RunReport
	historyCap int
}

// NewScheduler returns the run driver with bounded report history.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, loc *time.Location, runTimeout time.Duration, historyCap int, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	if historyCap < 1 {
		historyCap = 1
	}
	return &Scheduler{
		driver:     driver,
		pipeline:   pipeline,
		location:   loc,
		runTimeout: runTimeout,
		historyCap: historyCap,
		logger:     logger,
	}
}

// Start registers the pipeline with the slot driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(slot domain.Slot, trigger time.Time) {
		s.RunOnce(ctx, slot, trigger)
	}
	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}

// RunOnce executes one run for the edition current at trigger time. It
// returns false when another run held the lock and the trigger was
// skipped.
func (s *Scheduler) RunOnce(ctx context.Context, slot domain.Slot, trigger time.Time) bool {
	if !s.running.TryLock() {
		s.logger.Warn("trigger skipped, run already in progress", "slot", slot)
		return false
	}
	defer s.running.Unlock()

	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	report := s.pipeline.Run(runCtx, slot, editionDate(trigger.In(s.location)))
	s.remember(report)
	return true
}

// History returns the retained finalized reports, oldest first.
func (s *Scheduler) History() []domain.RunReport {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	out := make([]domain.RunReport, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Scheduler) remember(report domain.RunReport) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.history = append(s.history, report)
	if len(s.history) > s.historyCap {
		s.history = s.history[len(s.history)-s.historyCap:]
	}
}

// editionDate maps a local trigger instant to the gazette edition key:
// the calendar date, normalized to UTC midnight.
func editionDate(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
