package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/gbvm/basic/loader"
	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/logger"
)

// Execution modes.
const (
	ModeDirect = "direct"
	ModePooled = "pooled"
)

// Backend executes one invocation of a compiled script.
type Backend interface {
	Run(ctx context.Context, a *loader.Artifact, inv *Invocation) (any, error)
	Mode() string
	Stats() Stats
	Close() error
}

// Stats is a snapshot of a backend for operators.
type Stats struct {
	Mode  string      `json:"mode"`
	Pools []PoolStats `json:"pools,omitempty"`
	Host  HostMetrics `json:"host"`
}

// Config selects and tunes a backend.
type Config struct {
	Mode string
	// DirectTimeout bounds direct invocations. Zero leaves them bounded
	// only by the caller's context.
	DirectTimeout time.Duration
	Limits        Limits
}

// NewBackend builds the backend named by cfg.Mode. A pooled backend without
// a launcher runs its workers in-process on engine.
func NewBackend(cfg Config, engine *Engine, launcher Launcher, log *zap.SugaredLogger) (Backend, error) {
	switch cfg.Mode {
	case "", ModeDirect:
		return NewDirectBackend(engine, cfg.DirectTimeout), nil
	case ModePooled:
		if launcher == nil {
			launcher = InProcessLauncher{Engine: engine}
		}
		return NewPooledBackend(launcher, cfg.Limits, log), nil
	default:
		return nil, errors.NewInvalidRequestError("unknown sandbox mode %q", cfg.Mode)
	}
}

// DirectBackend runs scripts on the embedded engine inside the server
// process. It enforces no resource ceilings.
type DirectBackend struct {
	engine  *Engine
	timeout time.Duration
}

// NewDirectBackend creates a direct backend. timeout <= 0 disables the
// wall-clock bound.
func NewDirectBackend(engine *Engine, timeout time.Duration) *DirectBackend {
	return &DirectBackend{engine: engine, timeout: timeout}
}

// Run implements Backend
func (b *DirectBackend) Run(ctx context.Context, a *loader.Artifact, inv *Invocation) (any, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return b.engine.Run(ctx, a, inv)
}

// Mode implements Backend
func (b *DirectBackend) Mode() string { return ModeDirect }

// Stats implements Backend
func (b *DirectBackend) Stats() Stats {
	host, err := ReadHostMetrics()
	if err != nil {
		logger.Logger.Debugw("Host metrics unavailable", logger.FieldError, err)
	}
	return Stats{Mode: ModeDirect, Host: host}
}

// Close implements Backend
func (b *DirectBackend) Close() error { return nil }
