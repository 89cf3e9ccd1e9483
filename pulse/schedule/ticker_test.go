package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/gbvm/errors"
)

type recordingRunner struct {
	mu    sync.Mutex
	runs  []string
	err   error
	block chan struct{}
}

func (r *recordingRunner) RunScheduled(ctx context.Context, job *Job) error {
	r.mu.Lock()
	r.runs = append(r.runs, job.ScriptName)
	r.mu.Unlock()
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.err
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func newTestTicker(t *testing.T, runner Runner) (*Ticker, *Store) {
	t.Helper()
	store := NewStore(createTestDB(t))
	ticker := NewTicker(context.Background(), store, runner, TickerConfig{Interval: 10 * time.Millisecond}, zaptest.NewLogger(t).Sugar())
	return ticker, store
}

func TestTickerTickRunsDueSchedule(t *testing.T) {
	runner := &recordingRunner{}
	ticker, store := newTestTicker(t, runner)
	ctx := context.Background()

	job, err := store.Upsert(ctx, "bot1", "report", "*/5 * * * *", base)
	require.NoError(t, err)

	require.NoError(t, ticker.Tick(base))
	assert.Equal(t, 0, runner.count(), "nothing due yet")

	require.NoError(t, ticker.Tick(base.Add(3*time.Minute)))
	ticker.Stop()
	assert.Equal(t, []string{"report"}, runner.runs)

	got, err := store.Get(ctx, "bot1", "report")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.LastStatus)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 10, 0, 0, time.UTC), got.NextRunAt.UTC())

	runs, err := ticker.execs.ListExecutions(ctx, job.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusCompleted, runs[0].Status)
	assert.NotNil(t, runs[0].CompletedAt)

	stats := ticker.GetStats()
	assert.Equal(t, int64(1), stats["runs_started"])
	assert.Equal(t, int64(0), stats["runs_failed"])
}

func TestTickerRecordsFailure(t *testing.T) {
	runner := &recordingRunner{err: errors.Wrap(errors.ErrScriptRuntime, "boom")}
	ticker, store := newTestTicker(t, runner)
	ctx := context.Background()

	job, err := store.Upsert(ctx, "bot1", "report", "@hourly", base)
	require.NoError(t, err)

	require.NoError(t, ticker.Tick(base.Add(time.Hour)))
	ticker.Stop()

	got, err := store.Get(ctx, "bot1", "report")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.LastStatus)
	assert.Contains(t, got.LastError, "boom")

	runs, err := ticker.execs.ListExecutions(ctx, job.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, int64(1), ticker.GetStats()["runs_failed"])
}

func TestTickerSkipsScheduleStillRunning(t *testing.T) {
	runner := &recordingRunner{block: make(chan struct{})}
	ticker, store := newTestTicker(t, runner)

	_, err := store.Upsert(context.Background(), "bot1", "slow", "@hourly", base)
	require.NoError(t, err)

	require.NoError(t, ticker.Tick(base.Add(time.Hour)))
	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 5*time.Millisecond)

	// Due again, but the first run has not returned
	require.NoError(t, ticker.Tick(base.Add(3*time.Hour)))
	assert.Equal(t, 1, runner.count())
	assert.Equal(t, 1, ticker.GetStats()["in_flight"])

	close(runner.block)
	ticker.Stop()
	assert.Equal(t, 0, ticker.GetStats()["in_flight"])
}

func TestTickerStartStop(t *testing.T) {
	var calls atomic.Int32
	runner := RunnerFunc(func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return nil
	})
	ticker, store := newTestTicker(t, runner)

	_, err := store.Upsert(context.Background(), "bot1", "report", "@hourly", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	ticker.Start()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	ticker.Stop()

	// The schedule moved into the future, so it fired only once
	assert.Equal(t, int32(1), calls.Load())
	assert.Greater(t, ticker.GetStats()["ticks_since_start"], int64(0))
}

func TestTickerStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewStore(createTestDB(t))
	ticker := NewTicker(ctx, store, &recordingRunner{}, DefaultTickerConfig(), nil)

	ticker.Start()
	cancel()

	done := make(chan struct{})
	go func() {
		ticker.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop")
	}
}
