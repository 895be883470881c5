package backup

import (
	"context"
	"time"

	"github.com/michael-liumh/mysqlbackup/internal/database"
	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
	"github.com/michael-liumh/mysqlbackup/internal/logging"
)

const (
	watcherMaxPolls    = 180
	watcherInterval    = time.Second
	watcherWarmupPolls = 3

	lockStatement = "FLUSH TABLES WITH READ LOCK"
)

// Watcher guards the server against a wedged global read lock. The backup
// tools open with FLUSH TABLES WITH READ LOCK; when that statement is stuck
// behind a long-running query it blocks every later write on the server.
// The watcher kills such sessions, sacrificing the backup instead of the
// server.
//
// Sessions merely waiting on a table metadata lock report their own
// statement in the info column, so they never match. That is an assumption
// about processlist reporting, not a server guarantee.
type Watcher struct {
	runner database.QueryRunner
	user   string
	logger *logging.Logger

	interval time.Duration
	maxPolls int
	warmup   int

	// fatal is called once when a poll fails; it cancels the backup run.
	fatal func(error)
}

// NewWatcher creates a watcher for the backup owned by user. fatal receives
// the typed poll error and is expected to cancel the run.
func NewWatcher(runner database.QueryRunner, user string, logger *logging.Logger, fatal func(error)) *Watcher {
	return &Watcher{
		runner:   runner,
		user:     user,
		logger:   logger,
		interval: watcherInterval,
		maxPolls: watcherMaxPolls,
		warmup:   watcherWarmupPolls,
		fatal:    fatal,
	}
}

// Watch polls the process list once a second until the iteration cap, a
// context cancellation, or a poll failure stops it. Each poll opens its own
// connection; nothing is held across polls. The first polls only observe:
// a fresh read lock deserves a moment to complete before it counts as
// wedged.
func (w *Watcher) Watch(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for iteration := 1; iteration <= w.maxPolls; iteration++ {
		select {
		case <-ctx.Done():
			w.logger.Debug("Hang watcher stopped: backup run finished")
			return
		case <-ticker.C:
		}

		if err := w.poll(ctx, iteration > w.warmup); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Errorf("Hang watcher poll failed: %v", err)
			w.fatal(apperrors.NewWatcherPollError(err))
			return
		}
	}
	w.logger.Debug("Hang watcher stopped: iteration cap reached")
}

func (w *Watcher) poll(ctx context.Context, killEnabled bool) error {
	sessions, err := database.Processlist(ctx, w.runner)
	if err != nil {
		return err
	}

	for _, s := range sessions {
		if s.Info != lockStatement || s.User != w.user {
			continue
		}
		if !killEnabled {
			w.logger.WithField("session_id", s.ID).Debug("Read lock observed during warm-up; not killing yet")
			continue
		}
		w.logger.LogSessionKill(s.ID, database.Kill(ctx, w.runner, s.ID))
	}
	return nil
}
