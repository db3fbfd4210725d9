// Package scheduler runs periodic maintenance for long-running consoles.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/util"
)

// HistoryPruner trims the command history.
type HistoryPruner interface {
	Prune(ctx context.Context, keep int) (int64, error)
	Count(ctx context.Context) (int, error)
}

// Scheduler prunes the history once at start and then daily at a fixed
// wall-clock time.
type Scheduler struct {
	history    HistoryPruner
	maxEntries int
	runAt      string
	logger     zerolog.Logger

	now func() time.Time
}

// NewScheduler creates a scheduler. runAt is "HH:MM" local time; an
// unparsable value falls back to 04:00.
func NewScheduler(history HistoryPruner, maxEntries int, runAt string) *Scheduler {
	return &Scheduler{
		history:    history,
		maxEntries: maxEntries,
		runAt:      runAt,
		logger:     util.ComponentLogger("scheduler"),
		now:        time.Now,
	}
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s.history == nil || s.maxEntries <= 0 {
		<-ctx.Done()
		return
	}

	s.logger.Info().Int("max_entries", s.maxEntries).Msg("scheduler started")
	s.pruneHistory(ctx)

	for {
		nextRun := s.nextRun()
		sleep := nextRun.Sub(s.now())
		if sleep <= 0 {
			sleep = 24 * time.Hour
		}

		s.logger.Debug().
			Time("next_run", nextRun).
			Dur("sleep", sleep).
			Msg("history pruning scheduled")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.pruneHistory(ctx)
		}
	}
}

// pruneHistory keeps the newest maxEntries commands.
func (s *Scheduler) pruneHistory(ctx context.Context) {
	removed, err := s.history.Prune(ctx, s.maxEntries)
	if err != nil {
		s.logger.Warn().Err(err).Msg("history pruning failed")
		return
	}

	total, err := s.history.Count(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to count history")
		return
	}

	s.logger.Info().
		Int64("removed", removed).
		Int("kept", total).
		Msg("history pruned")
}

// nextRun returns the next occurrence of runAt after now.
func (s *Scheduler) nextRun() time.Time {
	hour, minute := parseClock(s.runAt)

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func parseClock(v string) (int, int) {
	hour, minute := 4, 0
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return hour, minute
	}

	var h, m int
	if _, err := fmt.Sscanf(parts[0], "%d", &h); err != nil {
		return hour, minute
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &m); err != nil {
		return hour, minute
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return hour, minute
	}
	return h, m
}
