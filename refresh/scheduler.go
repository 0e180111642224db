package refresh

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler invokes the full refresh at a configured weekly slot. On restart
// it computes the NEXT slot; missed slots are never back-filled.
type Scheduler struct {
	refresher *Refresher
	enabled   bool
	weekday   time.Weekday
	hour      int
	log       *logrus.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduler creates a weekly scheduler.
func NewScheduler(refresher *Refresher, enabled bool, weekday time.Weekday, hour int, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		refresher: refresher,
		enabled:   enabled,
		weekday:   weekday,
		hour:      hour,
		log:       log,
		now:       time.Now,
	}
}

// Start runs the scheduler loop until ctx is cancelled. A disabled scheduler
// returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.enabled {
		s.log.Info("refresh scheduler disabled")
		return
	}

	for {
		next := s.NextRun(s.now())
		s.log.WithFields(logrus.Fields{
			"next_run": next.Format(time.RFC3339),
		}).Info("refresh scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.refresher.Run(ctx); err != nil {
			s.log.WithError(err).Error("scheduled refresh failed")
		}
	}
}

// NextRun returns the first occurrence of the weekly slot strictly after
// now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, 0, 0, 0, now.Location())
	days := (int(s.weekday) - int(now.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, days)
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}
