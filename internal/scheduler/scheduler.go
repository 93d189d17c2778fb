// Package scheduler drives the background work of the companion: the
// presence poll loop, automatic reconnects and journal retention.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rift-companion/companion/internal/config"
	"github.com/rift-companion/companion/internal/connector"
)

const (
	minPollInterval  = 50 * time.Millisecond
	reconnectBackoff = 30 * time.Second
)

// Poller is the part of the presence client the poll loop drives.
type Poller interface {
	Connect(ctx context.Context) error
	Poll(ctx context.Context) (string, error)
	Status() connector.Status
}

// Pruner deletes journal rows older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	session Poller
	journal Pruner

	now         func() time.Time
	lastAttempt time.Time
}

// NewScheduler creates a task scheduler. journal may be nil.
func NewScheduler(cfg *config.Config, session Poller, journal Pruner) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		session: session,
		journal: journal,
		now:     time.Now,
	}
}

// Start runs all scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	go s.runPollLoop(ctx)

	if s.journal != nil && s.cfg.GetApplicationData().Journal.Enabled {
		go s.runPruneLoop(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runPollLoop polls the chat stream at the configured interval. The interval
// is re-read every cycle so config changes apply without a restart.
func (s *Scheduler) runPollLoop(ctx context.Context) {
	timer := time.NewTimer(s.pollInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.pollInterval())
		}
	}
}

// tick runs one poll cycle, reconnecting first when auto-connect is on.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.session.Status().Connected {
		s.maybeReconnect(ctx)
		return
	}
	if _, err := s.session.Poll(ctx); err != nil {
		log.Warn().Err(err).Msg("presence poll failed")
	}
}

func (s *Scheduler) maybeReconnect(ctx context.Context) {
	if !s.cfg.GetPresence().AutoConnect {
		return
	}
	now := s.now()
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < reconnectBackoff {
		return
	}
	s.lastAttempt = now

	log.Info().Msg("auto-connecting chat session")
	if err := s.session.Connect(ctx); err != nil {
		log.Warn().Err(err).Dur("retry_in", reconnectBackoff).Msg("auto-connect failed")
	}
}

func (s *Scheduler) pollInterval() time.Duration {
	d := time.Duration(s.cfg.GetPresence().PollIntervalMs) * time.Millisecond
	if d < minPollInterval {
		return minPollInterval
	}
	return d
}

// runPruneLoop trims the journal once at startup and then every
// JournalPruneHours.
func (s *Scheduler) runPruneLoop(ctx context.Context) {
	hours := s.cfg.GetApplicationData().Timers.JournalPruneHours
	if hours <= 0 {
		hours = 24
	}
	ticker := time.NewTicker(time.Duration(hours) * time.Hour)
	defer ticker.Stop()

	s.pruneJournal(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneJournal(ctx)
		}
	}
}

func (s *Scheduler) pruneJournal(ctx context.Context) {
	days := s.cfg.GetApplicationData().Journal.RetentionDays
	if days <= 0 {
		return
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	deleted, err := s.journal.Prune(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("journal prune failed")
		return
	}
	log.Info().
		Int64("deleted_rows", deleted).
		Int("retention_days", days).
		Msg("journal pruned")
}
