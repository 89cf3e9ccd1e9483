package sandbox

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/teranos/gbvm/basic/loader"
	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/logger"
)

// Worker runs invocations one at a time for a pool.
type Worker interface {
	Run(ctx context.Context, req *Request) (*Response, error)
	// Usage samples the worker's resource consumption.
	Usage() (Usage, error)
	// Kill terminates the worker. A killed worker is never reused.
	Kill() error
	PID() int
}

// Usage is a resource sample of a worker.
type Usage struct {
	CPUPercent float64
	RSSBytes   uint64
}

// Launcher starts workers for a pool.
type Launcher interface {
	Launch(ctx context.Context, key PoolKey) (Worker, error)
}

// programCache keeps compiled programs by fingerprint so a worker compiles
// each script version once.
type programCache struct {
	mu       sync.Mutex
	programs map[string]*goja.Program
	compiler loader.GojaCompiler
}

const maxCachedPrograms = 256

func (c *programCache) artifact(req *Request) (*loader.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.programs == nil {
		c.programs = make(map[string]*goja.Program)
	}
	prog, ok := c.programs[req.Fingerprint]
	if !ok {
		var err error
		prog, err = c.compiler.Compile(req.Script, req.Code)
		if err != nil {
			return nil, err
		}
		if len(c.programs) >= maxCachedPrograms {
			clear(c.programs)
		}
		c.programs[req.Fingerprint] = prog
	}
	return &loader.Artifact{
		Name:        req.Script,
		Code:        req.Code,
		LineMap:     req.LineMap,
		Fingerprint: req.Fingerprint,
		Program:     prog,
	}, nil
}

// serve runs one request on engine and shapes the outcome as a Response.
func (c *programCache) serve(ctx context.Context, engine *Engine, req *Request) *Response {
	resp := &Response{Seq: req.Seq}
	a, err := c.artifact(req)
	if err != nil {
		resp.Failure = &Failure{Script: req.Script, Message: err.Error()}
		return resp
	}
	v, err := engine.Run(ctx, a, req.Invocation)
	if err != nil {
		resp.Failure = asFailure(a, err)
		return resp
	}
	resp.Value = v
	return resp
}

// ServeWorker is the loop of a worker process: it decodes requests from r,
// runs them on engine, and encodes responses to w until r is exhausted or
// ctx is done.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer, engine *Engine, log *zap.SugaredLogger) error {
	log = logger.OrNop(log).Named("worker")
	dec := newDecoder(r)
	enc := newEncoder(w)
	var cache programCache

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var req Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "failed to decode request")
		}
		if req.Invocation == nil {
			req.Invocation = &Invocation{}
		}

		log.Debugw("Running script", logger.FieldScript, req.Script, logger.FieldPID, req.Invocation.PID)
		resp := cache.serve(ctx, engine, &req)
		if err := enc.Encode(resp); err != nil {
			return errors.Wrap(err, "failed to encode response")
		}
	}
}

// InProcessLauncher runs pooled workers as goroutines of the server.
// Quotas other than wall-clock time are not observable in-process.
type InProcessLauncher struct {
	Engine *Engine
}

// Launch implements Launcher
func (l InProcessLauncher) Launch(ctx context.Context, key PoolKey) (Worker, error) {
	if l.Engine == nil {
		return nil, errors.New("in-process launcher has no engine")
	}
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &inProcessWorker{engine: l.Engine, ctx: wctx, cancel: cancel}, nil
}

type inProcessWorker struct {
	engine *Engine
	cache  programCache
	ctx    context.Context
	cancel context.CancelFunc
	killed atomic.Bool
}

func (w *inProcessWorker) Run(ctx context.Context, req *Request) (*Response, error) {
	if w.killed.Load() {
		return nil, errors.New("worker was killed")
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(w.ctx, cancel)
	defer stop()

	done := make(chan *Response, 1)
	go func() { done <- w.cache.serve(runCtx, w.engine, req) }()

	select {
	case resp := <-done:
		return resp, nil
	case <-runCtx.Done():
		return nil, runCtx.Err()
	}
}

func (w *inProcessWorker) Usage() (Usage, error) { return Usage{}, nil }

func (w *inProcessWorker) Kill() error {
	w.killed.Store(true)
	w.cancel()
	return nil
}

func (w *inProcessWorker) PID() int { return 0 }

// ProcessLauncher starts workers as child processes running the worker
// subcommand of Executable.
type ProcessLauncher struct {
	// Executable defaults to the running binary.
	Executable string
	// Args builds the worker command line for a pool.
	Args func(key PoolKey) []string
	Log  *zap.SugaredLogger
}

// Launch implements Launcher
func (l ProcessLauncher) Launch(ctx context.Context, key PoolKey) (Worker, error) {
	exe := l.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, errors.Wrap(err, "failed to locate worker executable")
		}
	}
	var args []string
	if l.Args != nil {
		args = l.Args(key)
	}

	cmd := exec.Command(exe, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open worker stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start worker %s", exe)
	}

	w := &processWorker{
		cmd:    cmd,
		stdin:  stdin,
		enc:    newEncoder(stdin),
		dec:    newDecoder(stdout),
		exited: make(chan struct{}),
	}
	if proc, err := process.NewProcess(int32(cmd.Process.Pid)); err == nil {
		w.proc = proc
	}
	go func() {
		_ = cmd.Wait()
		close(w.exited)
	}()

	logger.OrNop(l.Log).Infow("Worker started",
		logger.FieldBot, key.BotID,
		logger.FieldWorkerID, cmd.Process.Pid,
		"debug", key.Debug)
	return w, nil
}

type processWorker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    interface{ Encode(any) error }
	dec    interface{ Decode(any) error }
	proc   *process.Process
	exited chan struct{}
	seq    uint64
}

func (w *processWorker) Run(ctx context.Context, req *Request) (*Response, error) {
	w.seq++
	req.Seq = w.seq
	if err := w.enc.Encode(req); err != nil {
		return nil, errors.Wrap(err, "failed to send request to worker")
	}

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var resp Response
		err := w.dec.Decode(&resp)
		done <- result{&resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, errors.Wrap(r.err, "worker exited")
		}
		if r.resp.Seq != req.Seq {
			return nil, errors.Newf("worker answered request %d, expected %d", r.resp.Seq, req.Seq)
		}
		return r.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *processWorker) Usage() (Usage, error) {
	if w.proc == nil {
		return Usage{}, errors.New("worker process not observable")
	}
	cpu, err := w.proc.Percent(0)
	if err != nil {
		return Usage{}, errors.Wrap(err, "failed to sample worker cpu")
	}
	mem, err := w.proc.MemoryInfo()
	if err != nil {
		return Usage{}, errors.Wrap(err, "failed to sample worker memory")
	}
	return Usage{CPUPercent: cpu, RSSBytes: mem.RSS}, nil
}

func (w *processWorker) Kill() error {
	_ = w.stdin.Close()
	select {
	case <-w.exited:
		return nil
	default:
	}
	if err := w.cmd.Process.Kill(); err != nil {
		return errors.Wrap(err, "failed to kill worker")
	}
	<-w.exited
	return nil
}

func (w *processWorker) PID() int { return w.cmd.Process.Pid }
