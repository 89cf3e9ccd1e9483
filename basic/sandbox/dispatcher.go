package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/gbvm/basic/loader"
	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/logger"
)

// Artifacts resolves script names to compiled artifacts.
type Artifacts interface {
	Artifact(name string) (*loader.Artifact, bool)
}

// Dispatcher executes compiled scripts for invocations registered in its
// process table.
type Dispatcher struct {
	artifacts Artifacts
	backend   Backend
	processes *ProcessTable
	locale    string
	log       *zap.SugaredLogger
}

// DispatcherOptions configure a Dispatcher.
type DispatcherOptions struct {
	// DefaultLocale is bound for sessions without a locale.
	DefaultLocale string
	// Processes is shared with the remote call surface; nil creates one.
	Processes *ProcessTable
}

// NewDispatcher creates a dispatcher running on backend.
func NewDispatcher(artifacts Artifacts, backend Backend, opts DispatcherOptions, log *zap.SugaredLogger) *Dispatcher {
	procs := opts.Processes
	if procs == nil {
		procs = NewProcessTable()
	}
	return &Dispatcher{
		artifacts: artifacts,
		backend:   backend,
		processes: procs,
		locale:    opts.DefaultLocale,
		log:       logger.OrNop(log).Named("dispatcher"),
	}
}

// Processes returns the table remote calls resolve pids against.
func (d *Dispatcher) Processes() *ProcessTable { return d.processes }

// Backend returns the backend invocations run on.
func (d *Dispatcher) Backend() Backend { return d.backend }

// Execute runs script for inv, whose pid must already be registered. The
// registration is removed when Execute returns. Execution failures are
// returned as *Failure.
func (d *Dispatcher) Execute(ctx context.Context, script string, inv *Invocation) (any, error) {
	if inv == nil {
		return nil, errors.NewInvalidRequestError("nil invocation")
	}
	if _, ok := d.processes.Lookup(inv.PID); !ok {
		return nil, errors.NewInvalidRequestError("pid %d is not registered", inv.PID)
	}
	// the entry goes on every exit, including a missing artifact
	defer d.processes.Remove(inv.PID)

	a, ok := d.artifacts.Artifact(script)
	if !ok || a == nil {
		return nil, errors.Mark(errors.Newf("no compiled artifact for script %q", script), errors.ErrNoArtifact)
	}

	if inv.Locale == "" {
		inv.Locale = d.locale
	}

	log := d.log.With(
		logger.FieldBot, inv.BotID,
		logger.FieldScript, a.Name,
		logger.FieldPID, inv.PID,
		logger.FieldMode, d.backend.Mode())
	log.Debugw("Executing script")

	start := time.Now()
	v, err := d.backend.Run(logger.WithPID(ctx, inv.PID), a, inv)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		f := asFailure(a, err)
		log.Warnw("Script failed",
			logger.FieldDurationMS, elapsed,
			logger.FieldLine, f.Line,
			logger.FieldLimit, f.Limit,
			logger.FieldError, f.Message)
		return nil, f
	}

	log.Debugw("Script finished", logger.FieldDurationMS, elapsed)
	return v, nil
}

// Start allocates and registers an invocation for s, then executes script.
func (d *Dispatcher) Start(ctx context.Context, script string, s Session) (any, error) {
	inv := NewInvocation(s)
	if err := d.processes.Register(inv, script); err != nil {
		return nil, err
	}
	// Execute removes the entry, but not when it fails its artifact check.
	defer d.processes.Remove(inv.PID)
	return d.Execute(ctx, script, inv)
}

// Close releases the backend.
func (d *Dispatcher) Close() error {
	return d.backend.Close()
}
