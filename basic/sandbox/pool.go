package sandbox

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/gbvm/basic/loader"
	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/logger"
)

// PoolKey selects the worker pool an invocation runs on.
type PoolKey struct {
	BotID string
	Debug bool
}

// Limits are the ceilings of a pooled invocation. Zero disables a ceiling.
type Limits struct {
	// Time is the wall-clock ceiling of one invocation.
	Time time.Duration `mapstructure:"time" json:"time"`
	// MemoryBytes is the resident memory ceiling of a worker.
	MemoryBytes uint64 `mapstructure:"memory_bytes" json:"memory_bytes"`
	// CPUPercent is the CPU share a worker may hold for CPUStrikes
	// consecutive samples.
	CPUPercent float64 `mapstructure:"cpu_percent" json:"cpu_percent"`
	CPUStrikes int     `mapstructure:"cpu_strikes" json:"cpu_strikes"`
	// Sample is the watchdog interval.
	Sample time.Duration `mapstructure:"sample" json:"sample"`
	// Size is the number of concurrent invocations per pool. Debug pools
	// always have one slot.
	Size int `mapstructure:"size" json:"size"`
}

// DefaultLimits are generous ceilings that only stop runaway workers.
func DefaultLimits() Limits {
	return Limits{
		Time:        14 * 24 * time.Hour,
		MemoryBytes: 50000 * 1024 * 1024,
		CPUPercent:  100,
		CPUStrikes:  3,
		Sample:      time.Second,
		Size:        runtime.NumCPU(),
	}
}

// PoolStats describes the occupancy of one pool.
type PoolStats struct {
	BotID    string `json:"bot_id"`
	Debug    bool   `json:"debug"`
	Slots    int    `json:"slots"`
	InUse    int    `json:"in_use"`
	Idle     int    `json:"idle"`
	Launched int64  `json:"launched"`
	Killed   int64  `json:"killed"`
}

type pool struct {
	key      PoolKey
	slots    chan struct{}
	mu       sync.Mutex
	idle     []Worker
	launched atomic.Int64
	killed   atomic.Int64
}

func (p *pool) take() Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return w
	}
	return nil
}

func (p *pool) put(w Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle = append(p.idle, w)
}

func (p *pool) stats() PoolStats {
	p.mu.Lock()
	idle := len(p.idle)
	p.mu.Unlock()
	return PoolStats{
		BotID:    p.key.BotID,
		Debug:    p.key.Debug,
		Slots:    cap(p.slots),
		InUse:    len(p.slots),
		Idle:     idle,
		Launched: p.launched.Load(),
		Killed:   p.killed.Load(),
	}
}

// PooledBackend runs invocations on workers obtained from a Launcher, one
// pool per bot and debug flag. A watchdog samples each busy worker and kills
// it when a ceiling is crossed; the invocation then fails with
// errors.ErrResourceLimitExceeded.
type PooledBackend struct {
	launcher Launcher
	limits   Limits
	log      *zap.SugaredLogger

	mu     sync.Mutex
	pools  map[PoolKey]*pool
	closed bool
}

// NewPooledBackend creates an empty pooled backend. Pools are created on
// first use.
func NewPooledBackend(launcher Launcher, limits Limits, log *zap.SugaredLogger) *PooledBackend {
	if limits.Size <= 0 {
		limits.Size = 1
	}
	return &PooledBackend{
		launcher: launcher,
		limits:   limits,
		log:      logger.OrNop(log).Named("pool"),
		pools:    make(map[PoolKey]*pool),
	}
}

// Mode implements Backend
func (b *PooledBackend) Mode() string { return ModePooled }

func (b *PooledBackend) pool(key PoolKey) (*pool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("pooled backend is closed")
	}
	p, ok := b.pools[key]
	if !ok {
		size := b.limits.Size
		if key.Debug {
			size = 1
		}
		p = &pool{key: key, slots: make(chan struct{}, size)}
		b.pools[key] = p
	}
	return p, nil
}

// Run implements Backend
func (b *PooledBackend) Run(ctx context.Context, a *loader.Artifact, inv *Invocation) (any, error) {
	p, err := b.pool(PoolKey{BotID: inv.BotID, Debug: inv.Debug})
	if err != nil {
		return nil, err
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.slots }()

	w := p.take()
	if w == nil {
		if w, err = b.launcher.Launch(ctx, p.key); err != nil {
			return nil, errors.Wrapf(err, "failed to launch worker for %s", inv.BotID)
		}
		p.launched.Add(1)
	}

	timeCtx, cancel := ctx, context.CancelFunc(func() {})
	if b.limits.Time > 0 {
		timeCtx, cancel = context.WithTimeout(ctx, b.limits.Time)
	}
	defer cancel()
	runCtx, cancelRun := context.WithCancel(timeCtx)

	breach := make(chan string, 1)
	var wg sync.WaitGroup
	if b.limits.Sample > 0 && (b.limits.MemoryBytes > 0 || b.limits.CPUPercent > 0) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.watch(runCtx, w, breach, cancelRun)
		}()
	}

	req := &Request{
		Script:      a.Name,
		Code:        a.Code,
		Fingerprint: a.Fingerprint,
		LineMap:     a.LineMap,
		Invocation:  inv,
	}
	resp, runErr := w.Run(runCtx, req)
	cancelRun()
	wg.Wait()

	log := logger.FromContext(logger.WithScript(ctx, a.Name), b.log).With(logger.FieldBot, inv.BotID)
	succeeded := runErr == nil && resp.Failure == nil

	limit := ""
	select {
	case limit = <-breach:
	default:
		// an interrupted script may answer before the worker notices the deadline
		if !succeeded && ctx.Err() == nil && errors.Is(timeCtx.Err(), context.DeadlineExceeded) {
			limit = LimitTime
		}
	}

	switch {
	case limit != "":
		log.Warnw("Worker exceeded resource limit", logger.FieldLimit, limit)
		b.kill(p, w, log)
		if succeeded {
			return resp.Value, nil
		}
		return nil, limitFailure(a.Name, limit)
	case runErr != nil:
		b.kill(p, w, log)
		return nil, runErr
	}

	b.release(p, w, log)
	if resp.Failure != nil {
		return nil, resp.Failure
	}
	return resp.Value, nil
}

// watch samples w until ctx ends and reports the first crossed ceiling.
func (b *PooledBackend) watch(ctx context.Context, w Worker, breach chan<- string, stop context.CancelFunc) {
	ticker := time.NewTicker(b.limits.Sample)
	defer ticker.Stop()

	strikes := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		u, err := w.Usage()
		if err != nil {
			continue
		}
		limit := ""
		if b.limits.MemoryBytes > 0 && u.RSSBytes > b.limits.MemoryBytes {
			limit = LimitMemory
		} else if b.limits.CPUPercent > 0 && u.CPUPercent > b.limits.CPUPercent {
			strikes++
			if strikes >= max(b.limits.CPUStrikes, 1) {
				limit = LimitCPU
			}
		} else {
			strikes = 0
		}
		if limit != "" {
			breach <- limit
			stop()
			return
		}
	}
}

// release returns a healthy worker to its pool, or kills it when the
// backend closed meanwhile.
func (b *PooledBackend) release(p *pool, w Worker, log *zap.SugaredLogger) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		b.kill(p, w, log)
		return
	}
	p.put(w)
}

func (b *PooledBackend) kill(p *pool, w Worker, log *zap.SugaredLogger) {
	p.killed.Add(1)
	if err := w.Kill(); err != nil {
		log.Warnw("Failed to kill worker", logger.FieldWorkerID, w.PID(), logger.FieldError, err)
	}
}

// Stats implements Backend
func (b *PooledBackend) Stats() Stats {
	b.mu.Lock()
	pools := make([]PoolStats, 0, len(b.pools))
	for _, p := range b.pools {
		pools = append(pools, p.stats())
	}
	b.mu.Unlock()

	sort.Slice(pools, func(i, j int) bool {
		if pools[i].BotID != pools[j].BotID {
			return pools[i].BotID < pools[j].BotID
		}
		return !pools[i].Debug && pools[j].Debug
	})
	host, _ := ReadHostMetrics()
	return Stats{Mode: ModePooled, Pools: pools, Host: host}
}

// Close kills every idle worker. Busy workers are killed when their
// invocation returns.
func (b *PooledBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	pools := b.pools
	b.pools = make(map[PoolKey]*pool)
	b.mu.Unlock()

	var errs error
	for _, p := range pools {
		p.mu.Lock()
		idle := p.idle
		p.idle = nil
		p.mu.Unlock()
		for _, w := range idle {
			errs = errors.CombineErrors(errs, w.Kill())
		}
	}
	return errs
}
