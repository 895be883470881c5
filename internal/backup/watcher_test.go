package backup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
)

// scriptedRunner serves one processlist response per poll and records kills.
type scriptedRunner struct {
	mu       sync.Mutex
	rows     [][]string
	queryErr error
	polls    int
	execs    []string
}

func (s *scriptedRunner) Query(_ context.Context, _ string) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.rows, nil
}

func (s *scriptedRunner) Exec(_ context.Context, stmt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, stmt)
	return nil
}

func (s *scriptedRunner) killed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execs...)
}

func newTestWatcher(t *testing.T, runner *scriptedRunner, fatal func(error)) *Watcher {
	t.Helper()
	if fatal == nil {
		fatal = func(error) {}
	}
	w := NewWatcher(runner, "backup", discardLogger(t), fatal)
	w.interval = 2 * time.Millisecond
	return w
}

func stuckSession(id string) []string {
	return []string{id, "backup", "Waiting for table flush", "FLUSH TABLES WITH READ LOCK"}
}

func TestWatcherKillsStuckSessionAfterWarmup(t *testing.T) {
	runner := &scriptedRunner{rows: [][]string{stuckSession("7")}}
	w := newTestWatcher(t, runner, nil)
	w.maxPolls = 5
	w.warmup = 1

	w.Watch(context.Background())

	killed := runner.killed()
	require.NotEmpty(t, killed, "the stuck session must be killed once warm-up is over")
	assert.Equal(t, "KILL 7", killed[0])
}

func TestWatcherWarmupSuppressesKills(t *testing.T) {
	runner := &scriptedRunner{rows: [][]string{stuckSession("7")}}
	w := newTestWatcher(t, runner, nil)
	w.maxPolls = 3
	w.warmup = 3

	w.Watch(context.Background())

	assert.Equal(t, 3, runner.polls, "the watcher queries on every iteration, warm-up included")
	assert.Empty(t, runner.killed(), "no kill may happen during warm-up")
}

func TestWatcherIgnoresOtherSessions(t *testing.T) {
	runner := &scriptedRunner{rows: [][]string{
		{"3", "app", "executing", "SELECT * FROM orders"},
		{"4", "other", "Waiting for table flush", "FLUSH TABLES WITH READ LOCK"},
		{"5", "backup", "executing", "SHOW PROCESSLIST"},
	}}
	w := newTestWatcher(t, runner, nil)
	w.maxPolls = 4
	w.warmup = 0

	w.Watch(context.Background())

	assert.Empty(t, runner.killed(), "only the backup user's read lock may be killed")
}

func TestWatcherPollFailureIsFatal(t *testing.T) {
	runner := &scriptedRunner{queryErr: errors.New("connection refused")}

	var fatalErr error
	w := newTestWatcher(t, runner, func(err error) { fatalErr = err })
	w.maxPolls = 10
	w.warmup = 3

	w.Watch(context.Background())

	require.Error(t, fatalErr, "a failed poll must cancel the run even during warm-up")
	assert.True(t, apperrors.IsType(fatalErr, apperrors.ErrorTypeWatcherPoll))
	assert.Equal(t, 1, runner.polls, "the watcher stops after the first failed poll")
}

func TestWatcherStopsOnContextCancel(t *testing.T) {
	runner := &scriptedRunner{rows: [][]string{}}

	fatalCalled := false
	w := newTestWatcher(t, runner, func(error) { fatalCalled = true })
	w.maxPolls = 100000

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Watch(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancellation")
	}
	assert.False(t, fatalCalled)
}

func TestWatcherStopsAtIterationCap(t *testing.T) {
	runner := &scriptedRunner{rows: [][]string{}}
	w := newTestWatcher(t, runner, nil)
	w.maxPolls = 4

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Watch(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop at the iteration cap")
	}
	assert.Equal(t, 4, runner.polls)
}
