package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/gbvm/basic/assemble"
	"github.com/teranos/gbvm/errors"
)

type scheduleCall struct {
	op, bot, script, cron string
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduleCall
}

func (s *fakeScheduler) CreateOrUpdate(_ context.Context, botID, script, cron string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, scheduleCall{"set", botID, script, cron})
	if cron == "whenever" {
		return errors.Mark(errors.New("bad cron"), errors.ErrSchedule)
	}
	return nil
}

func (s *fakeScheduler) DeleteIfAny(_ context.Context, botID, script string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, scheduleCall{"delete", botID, script, ""})
	return nil
}

type countingProvisioner struct{ calls atomic.Int32 }

func (p *countingProvisioner) Ensure(context.Context, string, string) (bool, error) {
	return p.calls.Add(1) == 1, nil
}

func newTestLoader(t *testing.T, opts Options) *Loader {
	t.Helper()
	if opts.BotID == "" {
		opts.BotID = "bot1"
	}
	l := New(opts, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { l.Close() })
	return l
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIsStale(t *testing.T) {
	artifact := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, IsStale(artifact.Add(5*time.Second), artifact, DefaultWindow))
	assert.False(t, IsStale(artifact.Add(30*time.Second), artifact, DefaultWindow))
	assert.True(t, IsStale(artifact.Add(31*time.Second), artifact, DefaultWindow))
	assert.False(t, IsStale(artifact.Add(-time.Hour), artifact, DefaultWindow))
}

func TestMainName(t *testing.T) {
	tests := map[string]string{
		"main.vbs":           "main",
		"Daily Report-v2.md": "dailyreportv2",
		"Hello.World.vbs":    "hello",
		" tab\tbed .txt":     "tabbed",
	}
	for in, want := range tests {
		assert.Equal(t, want, MainName(in), in)
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	c.Put(&Artifact{Name: "zeta"})
	c.Put(&Artifact{Name: "Alpha"})

	a, ok := c.Get(" ALPHA ")
	require.True(t, ok)
	assert.Equal(t, "Alpha", a.Name)
	assert.Equal(t, []string{"alpha", "zeta"}, c.Names())

	c.Delete("zeta")
	_, ok = c.Artifact("zeta")
	assert.False(t, ok)
}

func TestLoadPackageCompilesAndPersists(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.vbs", "talk \"Hello\"\n")
	l := newTestLoader(t, Options{})

	rep, err := l.LoadPackage(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.Equal(t, []string{"main"}, rep.Compiled)

	for _, suffix := range []string{IntermediateSuffix, LineMapSuffix, AssembledSuffix} {
		assert.FileExists(t, filepath.Join(dir, "main.vbs"+suffix))
	}

	a, ok := l.Artifact("MAIN")
	require.True(t, ok)
	assert.Contains(t, a.Code, `await dialog.talk({invocationId, text: "Hello"})`)
	assert.Equal(t, `await dialog.talk({invocationId, text: "Hello"})`, strings.TrimSpace(a.Intermediate))
	assert.NotNil(t, a.Program)
	assert.NotEmpty(t, a.Fingerprint)

	line, ok := a.SourceLine(assemble.HeaderLines + 1)
	require.True(t, ok)
	assert.Equal(t, 1, line)

	persisted, err := os.ReadFile(filepath.Join(dir, "main.vbs.js"))
	require.NoError(t, err)
	assert.Equal(t, a.Code, string(persisted))
}

func TestCompileTwiceIsByteIdentical(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.vbs", "x = hear x as integer\ntalk x\n")
	l := newTestLoader(t, Options{})
	ctx := context.Background()

	first, err := l.Compile(ctx, dir, "main")
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(dir, "main.vbs.js"))
	require.NoError(t, err)

	second, err := l.Compile(ctx, dir, "main")
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(dir, "main.vbs.js"))
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestLoadPackageFreshness(t *testing.T) {
	dir := t.TempDir()
	vbs := writeFile(t, dir, "main.vbs", "talk \"Hello\"\n")
	ctx := context.Background()

	_, err := newTestLoader(t, Options{}).LoadPackage(ctx, dir)
	require.NoError(t, err)

	st, err := os.Stat(vbs + AssembledSuffix)
	require.NoError(t, err)
	compiledAt := st.ModTime()

	// Source touched 5s after the artifact: still fresh
	require.NoError(t, os.Chtimes(vbs, compiledAt, compiledAt.Add(5*time.Second)))
	rep, err := newTestLoader(t, Options{}).LoadPackage(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, rep.Reused)
	assert.Empty(t, rep.Compiled)

	// 31s: stale
	require.NoError(t, os.Chtimes(vbs, compiledAt, compiledAt.Add(31*time.Second)))
	rep, err = newTestLoader(t, Options{}).LoadPackage(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, rep.Compiled)
	assert.Empty(t, rep.Reused)
}

func TestLoadPackageReusesCachedArtifact(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.vbs", "talk \"Hello\"\n")
	l := newTestLoader(t, Options{})
	ctx := context.Background()

	_, err := l.LoadPackage(ctx, dir)
	require.NoError(t, err)
	first, _ := l.Artifact("main")

	rep, err := l.LoadPackage(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, rep.Reused)
	second, _ := l.Artifact("main")
	assert.Same(t, first, second)
}

func TestLoadPackageExtractsScheduleFromDocument(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Daily-Report.md", "# Daily report\n\n```basic\nSET SCHEDULE 0 9 * * *\ntalk \"Good morning\"\n```\n")
	sched := &fakeScheduler{}
	l := newTestLoader(t, Options{Scheduler: sched})

	rep, err := l.LoadPackage(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.Equal(t, []string{"dailyreport"}, rep.Compiled)

	assert.Equal(t, []scheduleCall{{"set", "bot1", "dailyreport", "0 9 * * *"}}, sched.calls)

	copyText, err := os.ReadFile(filepath.Join(dir, "Daily-Report.vbs"))
	require.NoError(t, err)
	assert.NotContains(t, string(copyText), "SET SCHEDULE")
	assert.Contains(t, string(copyText), `talk "Good morning"`)

	a, ok := l.Artifact("dailyreport")
	require.True(t, ok)
	assert.Contains(t, a.Code, `text: "Good morning"`)
	assert.NotContains(t, a.Code, "SCHEDULE")
}

func TestLoadPackageDeletesScheduleWhenDirectiveRemoved(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "report.txt", "talk \"hi\"\n")
	sched := &fakeScheduler{}

	_, err := newTestLoader(t, Options{Scheduler: sched}).LoadPackage(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []scheduleCall{{"delete", "bot1", "report", ""}}, sched.calls)
}

func TestLoadPackageDropsMalformedSchedule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "report.vbs", "SET SCHEDULE whenever\ntalk \"hi\"\n")
	sched := &fakeScheduler{}
	l := newTestLoader(t, Options{Scheduler: sched})

	rep, err := l.LoadPackage(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"report"}, rep.Compiled)
	require.Contains(t, rep.Warnings, "report")
	assert.True(t, errors.Is(rep.Warnings["report"], errors.ErrSchedule))

	a, _ := l.Artifact("report")
	assert.NotContains(t, a.Code, "SCHEDULE")

	// An authored .vbs is never rewritten
	authored, err := os.ReadFile(filepath.Join(dir, "report.vbs"))
	require.NoError(t, err)
	assert.Contains(t, string(authored), "SET SCHEDULE whenever")
}

func TestLoadPackageIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.vbs", "talk \"ok\"\n")
	writeFile(t, dir, "missing.vbs", "INCLUDE nowhere.vbs\ntalk \"x\"\n")
	writeFile(t, dir, "broken.vbs", "x = (\n")
	l := newTestLoader(t, Options{})

	rep, err := l.LoadPackage(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, rep.Compiled)

	require.Len(t, rep.Failed, 2)
	assert.True(t, errors.Is(rep.Failed["missing"], errors.ErrSourceResolution))
	assert.True(t, errors.Is(rep.Failed["broken"], errors.ErrCompile))
	assert.True(t, errors.IsLoadError(rep.Failed["broken"]))

	require.Error(t, rep.Err())
	assert.Contains(t, rep.Err().Error(), "broken, missing")

	_, ok := l.Artifact("broken")
	assert.False(t, ok)
	_, ok = l.Artifact("good")
	assert.True(t, ok)
}

func TestLoadPackageIncludesSibling(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "helpers.vbs", "talk \"from helper\"\n")
	writeFile(t, dir, "main.vbs", "INCLUDE helpers.vbs\ntalk \"main\"\n")
	l := newTestLoader(t, Options{})

	_, err := l.LoadPackage(context.Background(), dir)
	require.NoError(t, err)

	a, ok := l.Artifact("main")
	require.True(t, ok)
	assert.Contains(t, a.Code, `text: "from helper"`)
	line, ok := a.SourceLine(assemble.HeaderLines + 1)
	require.True(t, ok)
	assert.Equal(t, 1, line)
}

func TestLoadPackageDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "talk \"md\"\n")
	writeFile(t, dir, "a.txt", "talk \"txt\"\n")

	rep, err := newTestLoader(t, Options{}).LoadPackage(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, rep.Compiled, 1)
	require.Contains(t, rep.Failed, "a")
	assert.True(t, errors.Is(rep.Failed["a"], errors.ErrSourceResolution))
}

func TestLoadPackageProvisionsOnce(t *testing.T) {
	dir := t.TempDir()
	prov := &countingProvisioner{}
	l := newTestLoader(t, Options{Provisioner: prov})
	ctx := context.Background()

	// Nothing to compile, nothing to provision
	rep, err := l.LoadPackage(ctx, dir)
	require.NoError(t, err)
	assert.False(t, rep.Provisioned)
	assert.Equal(t, int32(0), prov.calls.Load())

	writeFile(t, dir, "main.vbs", "talk \"hi\"\n")
	rep, err = l.LoadPackage(ctx, dir)
	require.NoError(t, err)
	assert.True(t, rep.Provisioned)
	assert.Equal(t, int32(1), prov.calls.Load())
}

func TestLoadPackageMissingFolder(t *testing.T) {
	_, err := newTestLoader(t, Options{}).LoadPackage(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSourceResolution))
}

func TestCompileUnknownScript(t *testing.T) {
	_, err := newTestLoader(t, Options{}).Compile(context.Background(), t.TempDir(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSourceResolution))
}

func TestReloadCompilesSavedVBS(t *testing.T) {
	dir := t.TempDir()
	vbs := writeFile(t, dir, "main.vbs", "talk \"one\"\n")
	l := newTestLoader(t, Options{})
	ctx := context.Background()

	_, err := l.LoadPackage(ctx, dir)
	require.NoError(t, err)

	writeFile(t, dir, "main.vbs", "talk \"two\"\n")
	a, err := l.Reload(ctx, vbs)
	require.NoError(t, err)
	assert.Contains(t, a.Code, `text: "two"`)

	cached, _ := l.Artifact("main")
	assert.Same(t, a, cached)
}

type gatedCompiler struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (c *gatedCompiler) Compile(name, code string) (*goja.Program, error) {
	if c.calls.Add(1) == 1 {
		close(c.started)
		<-c.release
	}
	return GojaCompiler{}.Compile(name, code)
}

func TestCompileIsSingleFlight(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.vbs", "talk \"hi\"\n")
	gate := &gatedCompiler{started: make(chan struct{}), release: make(chan struct{})}
	l := newTestLoader(t, Options{Compiler: gate})
	ctx := context.Background()

	results := make(chan *Artifact, 2)
	go func() {
		a, err := l.Compile(ctx, dir, "main")
		assert.NoError(t, err)
		results <- a
	}()
	<-gate.started

	go func() {
		a, err := l.Compile(ctx, dir, "main")
		assert.NoError(t, err)
		results <- a
	}()
	time.Sleep(100 * time.Millisecond)
	close(gate.release)

	first, second := <-results, <-results
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), gate.calls.Load())
}

func TestCompileSharedSurvivesCancelledCaller(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.vbs", "talk \"hi\"\n")
	gate := &gatedCompiler{started: make(chan struct{}), release: make(chan struct{})}
	l := newTestLoader(t, Options{Compiler: gate})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := l.Compile(ctx, dir, "main")
		firstErr <- err
	}()
	<-gate.started

	second := make(chan *Artifact, 1)
	go func() {
		a, err := l.Compile(context.Background(), dir, "main")
		assert.NoError(t, err)
		second <- a
	}()
	time.Sleep(100 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(gate.release)
	a := <-second
	require.NotNil(t, a)
	assert.Equal(t, int32(1), gate.calls.Load())

	cached, ok := l.Artifact("main")
	require.True(t, ok)
	assert.Same(t, a, cached)
}

func TestCompileDocumentIsSingleFlight(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "report.md", "```basic\nSET SCHEDULE 0 9 * * *\ntalk \"hi\"\n```\n")
	gate := &gatedCompiler{started: make(chan struct{}), release: make(chan struct{})}
	sched := &fakeScheduler{}
	l := newTestLoader(t, Options{Compiler: gate, Scheduler: sched})
	ctx := context.Background()

	results := make(chan *Artifact, 2)
	go func() {
		a, err := l.Compile(ctx, dir, "report")
		assert.NoError(t, err)
		results <- a
	}()
	<-gate.started

	go func() {
		a, err := l.Compile(ctx, dir, "report")
		assert.NoError(t, err)
		results <- a
	}()
	time.Sleep(100 * time.Millisecond)
	close(gate.release)

	first, second := <-results, <-results
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), gate.calls.Load())

	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.Equal(t, []scheduleCall{{"set", "bot1", "report", "0 9 * * *"}}, sched.calls)
}
