// Package loader keeps the compiled artifacts of a bot's dialog package in
// step with its authored sources.
//
// Every script goes through two stages. An authored document (markdown,
// plain text) is extracted into an editable .vbs copy, with its SET SCHEDULE
// directive handed to the scheduler and removed from the copy. The .vbs is
// then transpiled, assembled and compiled, and the results are persisted
// beside it as <name>.vbs.compiled, <name>.vbs.map and <name>.vbs.js.
// Persisted artifacts are reused while they are fresh.
package loader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/teranos/gbvm/basic/assemble"
	"github.com/teranos/gbvm/basic/extract"
	"github.com/teranos/gbvm/basic/keywords"
	"github.com/teranos/gbvm/basic/transpile"
	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/logger"
)

// Scheduler receives the schedule directives found in scripts.
type Scheduler interface {
	CreateOrUpdate(ctx context.Context, botID, script, cron string) error
	DeleteIfAny(ctx context.Context, botID, script string) error
}

// Provisioner makes sure a package's dependencies are installed.
type Provisioner interface {
	Ensure(ctx context.Context, folder, botID string) (bool, error)
}

// Options configures a Loader.
type Options struct {
	BotID string

	// StripEnd blanks END lines instead of truncating at the first one.
	StripEnd bool
	// AuthLogin prepends a login prompt to every script.
	AuthLogin bool
	// HotSwap starts a watcher on every loaded package.
	HotSwap bool

	Window         time.Duration // .vbs to artifact freshness window
	DocumentWindow time.Duration // document to .vbs freshness window
	Debounce       time.Duration // watcher quiet period before a reload
	ReloadInterval time.Duration // minimum spacing of reloads of one script

	Rules       *keywords.Table
	Extractors  *extract.Registry
	Compiler    Compiler
	Scheduler   Scheduler
	Provisioner Provisioner
	Cache       *Cache
}

// Loader discovers, compiles and caches the scripts of dialog packages.
type Loader struct {
	opts  Options
	cache *Cache
	group singleflight.Group
	log   *zap.SugaredLogger
	now   func() time.Time

	mu        sync.Mutex
	ownWrites map[string]time.Time
	watchers  map[string]*Watcher
}

// New creates a loader. Unset collaborators get defaults: the built-in rule
// table, the default extractor registry, the goja compiler and a new cache.
// Without a Scheduler directives are only stripped.
func New(opts Options, log *zap.SugaredLogger) *Loader {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.DocumentWindow <= 0 {
		opts.DocumentWindow = DocumentWindow
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = time.Second
	}
	if opts.Rules == nil {
		opts.Rules = keywords.Default()
	}
	if opts.Extractors == nil {
		opts.Extractors = extract.NewRegistry()
	}
	if opts.Compiler == nil {
		opts.Compiler = GojaCompiler{}
	}
	if opts.Cache == nil {
		opts.Cache = NewCache()
	}

	return &Loader{
		opts:      opts,
		cache:     opts.Cache,
		log:       logger.OrNop(log).Named("loader").With(logger.FieldBot, opts.BotID),
		now:       time.Now,
		ownWrites: make(map[string]time.Time),
		watchers:  make(map[string]*Watcher),
	}
}

// Cache returns the artifact cache the loader fills
func (l *Loader) Cache() *Cache {
	return l.cache
}

// Artifact returns the compiled artifact of a script
func (l *Loader) Artifact(name string) (*Artifact, bool) {
	return l.cache.Get(name)
}

// entry is one script of a package folder.
type entry struct {
	name     string
	source   string // authored file
	document bool   // source goes through extraction into a .vbs copy
}

func (e entry) vbsPath() string {
	if !e.document {
		return e.source
	}
	return strings.TrimSuffix(e.source, filepath.Ext(e.source)) + ".vbs"
}

// LoadPackage brings every script in folder up to date. A failing script is
// recorded in the report and does not stop its siblings; the returned error
// is reserved for failures of the package as a whole.
func (l *Loader) LoadPackage(ctx context.Context, folder string) (*Report, error) {
	rep := newReport(folder)
	log := l.log.With(logger.FieldFolder, folder)

	entries, err := l.scan(folder, rep)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		log.Debugw("No scripts in package")
		return rep, nil
	}

	if l.opts.Provisioner != nil {
		installed, err := l.opts.Provisioner.Ensure(ctx, folder, l.opts.BotID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to provision %s", folder)
		}
		rep.Provisioned = installed
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		compiled, err := l.load(ctx, folder, e, false, rep)
		if err != nil {
			rep.fail(e.name, err)
			log.Errorw("Script failed to load", logger.FieldScript, e.name, logger.FieldFile, e.source, logger.FieldError, err)
			continue
		}
		if compiled {
			rep.Compiled = append(rep.Compiled, e.name)
		} else {
			rep.Reused = append(rep.Reused, e.name)
		}
	}

	log.Infow("Package loaded",
		"compiled", len(rep.Compiled),
		"reused", len(rep.Reused),
		"failed", len(rep.Failed))

	if l.opts.HotSwap {
		if _, err := l.Watch(context.WithoutCancel(ctx), folder); err != nil {
			log.Warnw("Hot swap watch failed", logger.FieldError, err)
		}
	}
	return rep, nil
}

// Compile rebuilds one script of folder regardless of freshness.
func (l *Loader) Compile(ctx context.Context, folder, name string) (*Artifact, error) {
	entries, err := l.scan(folder, nil)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.name != cacheKey(name) {
			continue
		}
		if _, err := l.load(ctx, folder, e, true, nil); err != nil {
			return nil, err
		}
		a, _ := l.cache.Get(e.name)
		return a, nil
	}
	return nil, errors.Mark(errors.Newf("no script %q in %s", name, folder), errors.ErrSourceResolution)
}

// Reload recompiles the script behind a changed file. A changed .vbs is
// compiled as saved; a changed document is extracted again first.
func (l *Loader) Reload(ctx context.Context, path string) (*Artifact, error) {
	folder := filepath.Dir(path)
	if strings.EqualFold(filepath.Ext(path), ".vbs") {
		name := MainName(filepath.Base(path))
		authored := !l.hasDocument(folder, path)
		return l.compileShared(ctx, folder, name, path, authored, nil)
	}
	return l.Compile(ctx, folder, MainName(filepath.Base(path)))
}

// scan lists the scripts of folder. A .vbs that is the copy of a document
// is represented by the document.
func (l *Loader) scan(folder string, rep *Report) ([]entry, error) {
	dirents, err := os.ReadDir(folder)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to read package %s", folder), errors.ErrSourceResolution)
	}

	var docs, scripts []entry
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		path := filepath.Join(folder, d.Name())
		switch {
		case strings.EqualFold(filepath.Ext(d.Name()), ".vbs"):
			scripts = append(scripts, entry{name: MainName(d.Name()), source: path})
		default:
			if _, ok := l.opts.Extractors.For(path); ok {
				docs = append(docs, entry{name: MainName(d.Name()), source: path, document: true})
			}
		}
	}

	copies := make(map[string]bool, len(docs))
	for _, d := range docs {
		copies[d.vbsPath()] = true
	}

	seen := make(map[string]string)
	var out []entry
	for _, e := range append(docs, scripts...) {
		if !e.document && copies[e.source] {
			continue
		}
		if prev, dup := seen[e.name]; dup {
			rep.fail(e.name, errors.Mark(
				errors.Newf("%s and %s both define script %q", prev, filepath.Base(e.source), e.name),
				errors.ErrSourceResolution))
			continue
		}
		seen[e.name] = filepath.Base(e.source)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

func (l *Loader) hasDocument(folder, vbs string) bool {
	base := strings.TrimSuffix(filepath.Base(vbs), filepath.Ext(vbs))
	for _, ext := range l.opts.Extractors.Extensions() {
		if _, err := os.Stat(filepath.Join(folder, base+ext)); err == nil {
			return true
		}
	}
	return false
}

// load runs both stages for e and reports whether the script was rebuilt.
// Both stages run under the script's name in the single-flight group, so
// racing loads of one script extract, schedule and compile it once.
func (l *Loader) load(ctx context.Context, folder string, e entry, force bool, rep *Report) (bool, error) {
	v, err := l.shared(ctx, e.name, func(ctx context.Context) (interface{}, error) {
		return l.loadStages(ctx, folder, e, force, rep)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (l *Loader) loadStages(ctx context.Context, folder string, e entry, force bool, rep *Report) (bool, error) {
	vbs := e.vbsPath()

	if e.document {
		rewrite, err := l.needsCopy(e, vbs)
		if err != nil {
			return false, err
		}
		if force || rewrite {
			if err := l.writeCopy(ctx, e, vbs, rep); err != nil {
				return false, err
			}
			// a new copy always invalidates the artifacts
			force = true
		}
	}

	if !force {
		if a, ok := l.reuse(e.name, vbs); ok {
			l.cache.Put(a)
			return false, nil
		}
	}

	if _, err := l.compile(ctx, folder, e.name, vbs, !e.document, rep); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Loader) needsCopy(e entry, vbs string) (bool, error) {
	doc, err := os.Stat(e.source)
	if err != nil {
		return false, errors.Mark(errors.Wrapf(err, "failed to stat %s", e.source), errors.ErrSourceResolution)
	}
	cp, err := os.Stat(vbs)
	if err != nil {
		return true, nil
	}
	return IsStale(doc.ModTime(), cp.ModTime(), l.opts.DocumentWindow), nil
}

// writeCopy extracts a document into its editable .vbs copy and forwards
// the schedule directive.
func (l *Loader) writeCopy(ctx context.Context, e entry, vbs string, rep *Report) error {
	text, err := l.opts.Extractors.Extract(ctx, e.source)
	if err != nil {
		return err
	}

	directive, body, found := transpile.ExtractSchedule(text)
	if err := l.applySchedule(ctx, e.name, directive, found); err != nil {
		rep.warn(e.name, err)
	}

	l.MarkOwnWrite(vbs)
	if err := os.WriteFile(vbs, []byte(body), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", vbs)
	}
	l.log.Debugw("Document extracted", logger.FieldScript, e.name, logger.FieldFile, vbs)
	return nil
}

// applySchedule forwards a directive to the scheduler. A malformed
// directive is logged and dropped; loading continues.
func (l *Loader) applySchedule(ctx context.Context, name string, d transpile.ScheduleDirective, found bool) error {
	if l.opts.Scheduler == nil {
		return nil
	}
	var err error
	if found {
		err = l.opts.Scheduler.CreateOrUpdate(ctx, l.opts.BotID, name, d.Cron)
	} else {
		err = l.opts.Scheduler.DeleteIfAny(ctx, l.opts.BotID, name)
	}
	if err != nil {
		l.log.Warnw("Schedule directive dropped", logger.FieldScript, name, logger.FieldCron, d.Cron, logger.FieldError, err)
	}
	return err
}

// reuse returns the artifact of name when it is still fresh against vbs,
// from memory or from the persisted files.
func (l *Loader) reuse(name, vbs string) (*Artifact, bool) {
	src, err := os.Stat(vbs)
	if err != nil {
		return nil, false
	}
	if a, ok := l.cache.Get(name); ok && a.SourcePath == vbs && !IsStale(src.ModTime(), a.CompiledAt, l.opts.Window) {
		return a, true
	}

	js := vbs + AssembledSuffix
	st, err := os.Stat(js)
	if err != nil || IsStale(src.ModTime(), st.ModTime(), l.opts.Window) {
		return nil, false
	}

	code, err := os.ReadFile(js)
	if err != nil {
		return nil, false
	}
	raw, err := os.ReadFile(vbs + LineMapSuffix)
	if err != nil {
		return nil, false
	}
	var lm transpile.LineMap
	if err := json.Unmarshal(raw, &lm); err != nil {
		l.log.Warnw("Corrupt line map, recompiling", logger.FieldScript, name, logger.FieldError, err)
		return nil, false
	}
	prog, err := l.opts.Compiler.Compile(name, string(code))
	if err != nil {
		l.log.Warnw("Persisted artifact does not compile, recompiling", logger.FieldScript, name, logger.FieldError, err)
		return nil, false
	}
	intermediate, _ := os.ReadFile(vbs + IntermediateSuffix)

	l.log.Debugw("Reusing fresh artifact", logger.FieldScript, name)
	return &Artifact{
		Name:         name,
		SourcePath:   vbs,
		Intermediate: string(intermediate),
		Code:         string(code),
		LineMap:      lm,
		CompiledAt:   st.ModTime(),
		Fingerprint:  Fingerprint(string(code)),
		Program:      prog,
	}, true
}

// compileShared compiles name with at most one compile of a name in flight.
// Callers racing on the same name share the result.
func (l *Loader) compileShared(ctx context.Context, folder, name, vbs string, authored bool, rep *Report) (*Artifact, error) {
	v, err := l.shared(ctx, name, func(ctx context.Context) (interface{}, error) {
		return l.compile(ctx, folder, name, vbs, authored, rep)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

// shared runs fn at most once per name at a time. fn runs detached from the
// cancellation of whichever caller started it; each caller stops waiting
// when its own ctx is done, and the others still receive the result.
func (l *Loader) shared(ctx context.Context, name string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	work := context.WithoutCancel(ctx)
	ch := l.group.DoChan(name, func() (interface{}, error) {
		return fn(work)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			l.log.Debugw("Joined in-flight load", logger.FieldScript, name)
		}
		return r.Val, nil
	}
}

func (l *Loader) compile(ctx context.Context, folder, name, vbs string, authored bool, rep *Report) (*Artifact, error) {
	start := time.Now()

	raw, err := os.ReadFile(vbs)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to read %s", vbs), errors.ErrSourceResolution)
	}

	// Directives in a .vbs copy were already handled at extraction.
	directive, text, found := transpile.ExtractSchedule(string(raw))
	if authored {
		if err := l.applySchedule(ctx, name, directive, found); err != nil {
			rep.warn(name, err)
		}
	}

	tr := transpile.New(l.opts.Rules, transpile.Options{
		StripEnd:     l.opts.StripEnd,
		AuthLogin:    l.opts.AuthLogin,
		HeaderOffset: assemble.HeaderLines,
		Resolver:     transpile.DirResolver{Dir: folder},
	}, l.log)
	res, err := tr.Transpile(ctx, name, text)
	if err != nil {
		return nil, err
	}

	code := assemble.Assemble(res.Code, assemble.Bindings{BotID: l.opts.BotID, ScriptName: name})
	prog, err := l.opts.Compiler.Compile(name, code)
	if err != nil {
		if !errors.Is(err, errors.ErrCompile) {
			err = errors.Mark(err, errors.ErrCompile)
		}
		return nil, err
	}

	fp := Fingerprint(code)
	if err := l.persist(vbs, res, code, fp); err != nil {
		return nil, err
	}

	a := &Artifact{
		Name:         name,
		SourcePath:   vbs,
		Intermediate: res.Code,
		Code:         code,
		LineMap:      res.LineMap,
		CompiledAt:   l.now(),
		Fingerprint:  fp,
		Program:      prog,
	}
	l.cache.Put(a)

	l.log.Infow("Script compiled",
		logger.FieldScript, name,
		"fingerprint", fp,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return a, nil
}

// persist writes the artifact files beside vbs. When the assembled script
// on disk already has fingerprint fp only its timestamp is refreshed.
func (l *Loader) persist(vbs string, res *transpile.Result, code, fp string) error {
	js := vbs + AssembledSuffix
	if existing, err := os.ReadFile(js); err == nil && Fingerprint(string(existing)) == fp {
		if _, err := os.Stat(vbs + LineMapSuffix); err == nil {
			now := l.now()
			if err := os.Chtimes(js, now, now); err != nil {
				return errors.Wrapf(err, "failed to touch %s", js)
			}
			return nil
		}
	}

	lm, err := json.Marshal(res.LineMap)
	if err != nil {
		return errors.Wrap(err, "failed to encode line map")
	}
	files := []struct {
		path string
		data []byte
	}{
		{vbs + IntermediateSuffix, []byte(res.Code)},
		{vbs + LineMapSuffix, lm},
		{js, []byte(code)},
	}
	for _, f := range files {
		if err := os.WriteFile(f.path, f.data, 0o644); err != nil {
			return errors.Wrapf(err, "failed to write %s", f.path)
		}
	}
	return nil
}

// MarkOwnWrite records that the loader is about to write path, so the
// watcher ignores the resulting events.
func (l *Loader) MarkOwnWrite(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ownWrites[path] = l.now()
}

// isOwnWrite reports whether path was written by the loader within the
// suppression period.
func (l *Loader) isOwnWrite(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.ownWrites[path]
	if !ok {
		return false
	}
	if l.now().Sub(at) > 2*l.opts.Debounce+time.Second {
		delete(l.ownWrites, path)
		return false
	}
	return true
}

// Close stops every watcher started by the loader
func (l *Loader) Close() error {
	l.mu.Lock()
	watchers := make([]*Watcher, 0, len(l.watchers))
	for _, w := range l.watchers {
		watchers = append(watchers, w)
	}
	l.watchers = make(map[string]*Watcher)
	l.mu.Unlock()

	var errs error
	for _, w := range watchers {
		if err := w.Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}
