// Package sandbox executes compiled scripts on behalf of conversation
// sessions.
//
// A Dispatcher checks the preconditions of an invocation and hands it to a
// Backend. DirectBackend runs the script in an embedded runtime inside the
// server process; PooledBackend runs it on a pool of worker processes with
// CPU, memory and wall-clock ceilings. Both return the script's final value
// or a *Failure.
package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/teranos/gbvm/basic/assemble"
	"github.com/teranos/gbvm/basic/keywords"
	"github.com/teranos/gbvm/basic/loader"
	"github.com/teranos/gbvm/basic/rpc"
	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/internal/httpclient"
	"github.com/teranos/gbvm/logger"
)

// reservedGlobals cannot be shadowed by entity bindings.
var reservedGlobals = map[string]bool{
	assemble.FacadesGlobal: true,
	assemble.SessionGlobal: true,
	"require":              true,
	"console":              true,
}

// Engine runs assembled scripts in a fresh runtime per invocation. The
// runtime exposes the façade proxies, the session bindings, a console and
// an allow-listed require; nothing else of the host is reachable.
type Engine struct {
	callers rpc.Set
	http    *httpclient.SaferClient
	log     *zap.SugaredLogger

	// Debug promotes console.debug output of every script to info.
	Debug bool
}

// NewEngine creates an engine whose scripts call out through callers.
// http serves the script-visible http and https modules; nil disables them.
func NewEngine(callers rpc.Set, http *httpclient.SaferClient, log *zap.SugaredLogger) *Engine {
	return &Engine{
		callers: callers,
		http:    http,
		log:     logger.OrNop(log).Named("engine"),
	}
}

// Run executes a's program for inv and returns the script's final value.
// Cancelling ctx interrupts the script.
func (e *Engine) Run(ctx context.Context, a *loader.Artifact, inv *Invocation) (any, error) {
	if a.Program == nil {
		return nil, errors.Mark(errors.Newf("artifact %s has no program", a.Name), errors.ErrNoArtifact)
	}

	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	stop := context.AfterFunc(ctx, func() { rt.Interrupt(ctx.Err()) })
	defer stop()

	log := e.log.With(logger.FieldScript, a.Name, logger.FieldPID, inv.PID)
	if err := e.bind(ctx, rt, inv, log); err != nil {
		return nil, err
	}

	v, err := rt.RunProgram(a.Program)
	if err != nil {
		return nil, asFailure(a, err)
	}

	if p, ok := v.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			v = p.Result()
		case goja.PromiseStateRejected:
			return nil, exceptionFailure(a, p.Result(), "")
		default:
			return nil, &Failure{Script: a.Name, Message: "script did not finish"}
		}
	}
	return export(v), nil
}

func (e *Engine) bind(ctx context.Context, rt *goja.Runtime, inv *Invocation, log *zap.SugaredLogger) error {
	facades := rt.NewObject()
	for _, f := range rpc.Facades {
		obj, err := e.facade(ctx, rt, f)
		if err != nil {
			return err
		}
		if err := facades.Set(string(f), obj); err != nil {
			return errors.Wrapf(err, "bind %s façade", f)
		}
	}

	globals := map[string]any{
		assemble.FacadesGlobal: facades,
		assemble.SessionGlobal: inv.Bindings(),
		"console":              console(rt, log, e.Debug || inv.Debug),
		"require":              e.require(ctx, rt),
	}
	for name, v := range inv.Entities {
		if reservedGlobals[name] {
			log.Warnw("Entity shadows a runtime global, skipped", "entity", name)
			continue
		}
		globals[name] = v
	}
	for name, v := range globals {
		if err := rt.Set(name, v); err != nil {
			return errors.Wrapf(err, "bind %s", name)
		}
	}
	return nil
}

// facade builds the proxy object of one façade. Each operation forwards
// its argument object to the façade's caller; a failed call throws.
func (e *Engine) facade(ctx context.Context, rt *goja.Runtime, f keywords.Facade) (*goja.Object, error) {
	caller, bound := e.callers.Caller(f)
	obj := rt.NewObject()
	for _, op := range rpc.Operations(f) {
		err := obj.Set(op, func(call goja.FunctionCall) goja.Value {
			if !bound {
				panic(rt.NewGoError(errors.Newf("%s façade is not configured", f)))
			}
			args, _ := call.Argument(0).Export().(map[string]any)
			res, err := caller.Call(ctx, op, args)
			if err != nil {
				panic(rt.NewGoError(err))
			}
			return rt.ToValue(res)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "bind %s.%s", f, op)
		}
	}
	return obj, nil
}

func console(rt *goja.Runtime, log *zap.SugaredLogger, verbose bool) *goja.Object {
	obj := rt.NewObject()
	write := func(logf func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			logf("Script console", "message", strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	_ = obj.Set("log", write(log.Infow))
	_ = obj.Set("info", write(log.Infow))
	if verbose {
		_ = obj.Set("debug", write(log.Infow))
	} else {
		_ = obj.Set("debug", write(log.Debugw))
	}
	_ = obj.Set("warn", write(log.Warnw))
	_ = obj.Set("error", write(log.Errorw))
	return obj
}

// export converts a script value into plain Go data.
func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func (e *Engine) require(ctx context.Context, rt *goja.Runtime) func(goja.FunctionCall) goja.Value {
	loaded := make(map[string]goja.Value)
	return func(call goja.FunctionCall) goja.Value {
		name := strings.TrimPrefix(call.Argument(0).String(), "node:")
		if v, ok := loaded[name]; ok {
			return v
		}
		build, ok := modules[name]
		if !ok {
			panic(rt.NewTypeError(fmt.Sprintf("module %q is not available", name)))
		}
		v := build(ctx, rt, e)
		loaded[name] = v
		return v
	}
}
