package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/gbvm/db"
	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/internal/util"
	"github.com/teranos/gbvm/logger"
)

// Runner executes the script behind a due schedule.
type Runner interface {
	RunScheduled(ctx context.Context, job *Job) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, job *Job) error

// RunScheduled calls f
func (f RunnerFunc) RunScheduled(ctx context.Context, job *Job) error { return f(ctx, job) }

// Ticker polls the store for due schedules and runs them.
// A schedule is advanced before its script starts, so a slow or failing
// script never fires twice for the same activation.
type Ticker struct {
	store    *Store
	execs    *ExecutionStore
	runner   Runner
	interval time.Duration
	batch    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *zap.SugaredLogger

	mu              sync.Mutex
	inFlight        map[string]struct{}
	lastTickAt      time.Time
	ticksSinceStart int64
	runsStarted     int64
	runsFailed      int64
}

// TickerConfig contains configuration for the ticker
type TickerConfig struct {
	Interval time.Duration // How often to check for due schedules
	Batch    int           // Maximum schedules fired per tick
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: 1 * time.Second,
		Batch:    100,
	}
}

// NewTicker creates a ticker bound to ctx
func NewTicker(ctx context.Context, store *Store, runner Runner, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultTickerConfig().Batch
	}
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		store:    store,
		execs:    NewExecutionStore(store.db),
		runner:   runner,
		interval: cfg.Interval,
		batch:    cfg.Batch,
		ctx:      tickerCtx,
		cancel:   cancel,
		log:      logger.OrNop(log).Named("ticker"),
		inFlight: make(map[string]struct{}),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.log.Infow("Schedule ticker started", "interval", t.interval)
}

// Stop cancels the loop and waits for running scripts to return
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.log.Infow("Schedule ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			t.mu.Unlock()

			if err := t.Tick(tickTime); err != nil {
				if db.IsDatabaseClosed(err) || errors.Is(err, context.Canceled) {
					return
				}
				t.log.Warnw("Schedule tick error", "error", err, "tick", t.ticksSinceStart)
			}
		}
	}
}

// Tick fires every schedule due at now. Schedules whose previous run is
// still in flight are skipped.
func (t *Ticker) Tick(now time.Time) error {
	jobs, err := t.store.ListDue(t.ctx, now, t.batch)
	if err != nil {
		return errors.Wrap(err, "failed to list due schedules")
	}

	for _, job := range jobs {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		if !t.claim(job.ID) {
			t.log.Debugw("Skipping schedule still running", logger.FieldBot, job.BotID, logger.FieldScript, job.ScriptName)
			continue
		}
		if err := t.store.MarkRun(t.ctx, job, now); err != nil {
			t.release(job.ID)
			t.log.Errorw("Failed to advance schedule", logger.FieldBot, job.BotID, logger.FieldScript, job.ScriptName, "error", err)
			continue
		}

		t.wg.Add(1)
		go t.execute(job)
	}
	return nil
}

func (t *Ticker) execute(job *Job) {
	defer t.wg.Done()
	defer t.release(job.ID)

	// Bookkeeping outlives a cancelled ticker so a shutdown still records the outcome.
	bg := context.WithoutCancel(t.ctx)

	start := time.Now()
	exec := &Execution{
		ID:         uuid.NewString(),
		ScheduleID: job.ID,
		Status:     StatusRunning,
		StartedAt:  start.UTC().Format(time.RFC3339),
		CreatedAt:  start.UTC().Format(time.RFC3339),
		UpdatedAt:  start.UTC().Format(time.RFC3339),
	}
	if err := t.execs.CreateExecution(bg, exec); err != nil {
		t.log.Warnw("Failed to create execution record", logger.FieldJobID, job.ID, "error", err)
	}

	t.mu.Lock()
	t.runsStarted++
	t.mu.Unlock()

	t.log.Infow("Running scheduled script", logger.FieldBot, job.BotID, logger.FieldScript, job.ScriptName, "execution", exec.ID)
	runErr := t.runner.RunScheduled(t.ctx, job)

	done := time.Now()
	exec.CompletedAt = util.Ptr(done.UTC().Format(time.RFC3339))
	exec.DurationMs = util.Ptr(int(done.Sub(start).Milliseconds()))
	exec.UpdatedAt = *exec.CompletedAt
	exec.Status = StatusCompleted
	if runErr != nil {
		exec.Status = StatusFailed
		exec.ErrorMessage = util.Ptr(runErr.Error())

		t.mu.Lock()
		t.runsFailed++
		t.mu.Unlock()

		t.log.Errorw("Scheduled script failed",
			logger.FieldBot, job.BotID,
			logger.FieldScript, job.ScriptName,
			"duration_ms", *exec.DurationMs,
			"details", errors.GetAllDetails(runErr),
			"error", runErr)
	} else {
		t.log.Infow("Scheduled script finished",
			logger.FieldBot, job.BotID,
			logger.FieldScript, job.ScriptName,
			"duration_ms", *exec.DurationMs,
			"next_run_at", job.NextRunAt)
	}

	if err := t.store.RecordResult(bg, job.ID, runErr); err != nil {
		t.log.Warnw("Failed to record schedule result", logger.FieldJobID, job.ID, "error", err)
	}
	if err := t.execs.UpdateExecution(bg, exec); err != nil {
		t.log.Warnw("Failed to update execution record", "execution", exec.ID, "error", err)
	}
}

func (t *Ticker) claim(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.inFlight[id]; busy {
		return false
	}
	t.inFlight[id] = struct{}{}
	return true
}

func (t *Ticker) release(id string) {
	t.mu.Lock()
	delete(t.inFlight, id)
	t.mu.Unlock()
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
		"runs_started":      t.runsStarted,
		"runs_failed":       t.runsFailed,
		"in_flight":         len(t.inFlight),
	}
}
