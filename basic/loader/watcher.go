package loader

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/logger"
)

// Watcher recompiles the scripts of one package folder as they are saved.
// Bursts of events for a file are debounced, the loader's own writes are
// ignored, and reloads of one script are rate limited.
type Watcher struct {
	loader  *Loader
	folder  string
	watcher *fsnotify.Watcher
	log     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	timers   map[string]*time.Timer
	limiters map[string]*rate.Limiter

	reloads atomic.Int64
}

// Watch starts watching folder. The watcher runs until ctx is done or it is
// closed. Watching a folder twice returns the running watcher.
func (l *Loader) Watch(ctx context.Context, folder string) (*Watcher, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.watchers[folder]; ok {
		return w, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fw.Add(folder); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", folder)
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		loader:   l,
		folder:   folder,
		watcher:  fw,
		log:      l.log.Named("watch").With(logger.FieldFolder, folder),
		ctx:      wctx,
		cancel:   cancel,
		timers:   make(map[string]*time.Timer),
		limiters: make(map[string]*rate.Limiter),
	}
	l.watchers[folder] = w

	w.wg.Add(1)
	go w.watchLoop()
	w.log.Infow("Hot swap enabled")
	return w, nil
}

// Reloads returns how many reloads the watcher has run
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Close stops the watcher and waits for its loop to exit
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()

	w.loader.mu.Lock()
	if w.loader.watchers[w.folder] == w {
		delete(w.loader.watchers, w.folder)
	}
	w.loader.mu.Unlock()
	return err
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !w.watches(event.Name) {
				continue
			}
			if w.loader.isOwnWrite(event.Name) {
				w.log.Debugw("Ignoring own write", logger.FieldFile, event.Name)
				continue
			}
			w.scheduleReload(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnw("Watcher error", logger.FieldError, err)
		}
	}
}

// watches reports whether path is a script source rather than an artifact.
func (w *Watcher) watches(path string) bool {
	if strings.EqualFold(filepath.Ext(path), ".vbs") {
		return true
	}
	_, ok := w.loader.opts.Extractors.For(path)
	return ok
}

func (w *Watcher) scheduleReload(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.loader.opts.Debounce, func() {
		w.reload(path)
	})
}

func (w *Watcher) limiter(name string) *rate.Limiter {
	w.mu.Lock()
	defer w.mu.Unlock()
	lim, ok := w.limiters[name]
	if !ok {
		lim = rate.NewLimiter(rate.Every(w.loader.opts.ReloadInterval), 1)
		w.limiters[name] = lim
	}
	return lim
}

func (w *Watcher) reload(path string) {
	name := MainName(filepath.Base(path))
	if err := w.limiter(name).Wait(w.ctx); err != nil {
		return
	}

	_, err := w.loader.Reload(w.ctx, path)
	w.reloads.Add(1)
	if err != nil {
		w.log.Errorw("Hot swap failed", logger.FieldScript, name, logger.FieldFile, path, logger.FieldError, err)
	} else {
		w.log.Infow("Hot swapped", logger.FieldScript, name)
	}
}
