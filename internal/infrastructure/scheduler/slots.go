package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"GazetteScanner/internal/domain"
	"GazetteScanner/internal/ports"
)

// Slot is one independently identified daily trigger.
type Slot struct {
	Name   domain.Slot
	Hour   int
	Minute int
}

// SlotScheduler fires the job once per day per slot at the configured
// local time. Slots are independent: a failure or delay in one never
// blocks or skips another. Misfires are not replayed; after a restart
// the next run happens at its configured time, never immediately, so a
// downtime window cannot produce a backlog of catch-up runs.
type SlotScheduler struct {
	slots  []Slot
	loc    *time.Location
	logger *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ ports.Scheduler = (*SlotScheduler)(nil)

// NewSlotScheduler builds a scheduler over the given slots and timezone.
func NewSlotScheduler(loc *time.Location, logger *slog.Logger, slots ...Slot) *SlotScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlotScheduler{slots: slots, loc: loc, logger: logger}
}

// Start launches one trigger goroutine per slot.
func (s *SlotScheduler) Start(ctx context.Context, job func(domain.Slot, time.Time)) error {
	if job == nil {
		return nil
	}
	if s.stop != nil {
		return nil
	}

	s.stop = make(chan struct{})
	for _, slot := range s.slots {
		s.wg.Add(1)
		go s.runSlot(ctx, s.stop, slot, job)
	}
	return nil
}

func (s *SlotScheduler) runSlot(ctx context.Context, stop <-chan struct{}, slot Slot, job func(domain.Slot, time.Time)) {
	defer s.wg.Done()

	for {
		next := nextOccurrence(time.Now().In(s.loc), slot)
		s.logger.Debug("slot armed", "slot", slot.Name, "at", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case trigger := <-timer.C:
			job(slot.Name, trigger.In(s.loc))
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		}
	}
}

// Stop halts all trigger goroutines and waits for them to exit.
func (s *SlotScheduler) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	s.wg.Wait()
	s.stop = nil
	return nil
}

// nextOccurrence returns the soonest future time the slot fires,
// computed from now rather than from any missed trigger.
func nextOccurrence(now time.Time, slot Slot) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), slot.Hour, slot.Minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
