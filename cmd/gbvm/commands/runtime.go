package commands

import (
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/gbvm/am"
	"github.com/teranos/gbvm/basic/deps"
	"github.com/teranos/gbvm/basic/loader"
	"github.com/teranos/gbvm/basic/rpc"
	"github.com/teranos/gbvm/basic/sandbox"
	"github.com/teranos/gbvm/db"
	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/internal/httpclient"
	"github.com/teranos/gbvm/logger"
	"github.com/teranos/gbvm/version"
)

// PackageSuffix marks a dialog package folder.
const PackageSuffix = ".gbdialog"

// openDatabase opens and migrates the schedule store.
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	path := cfg.GetDatabasePath()
	database, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return database, nil
}

// botIDFor derives the bot id from a package folder name.
func botIDFor(folder string) string {
	return strings.TrimSuffix(filepath.Base(filepath.Clean(folder)), PackageSuffix)
}

// discoverPackages finds <root>/<bot>.gbdialog and
// <root>/<bot>.gbai/<bot>.gbdialog folders.
func discoverPackages(root string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, errors.Wrapf(err, "dialog root %s", root)
	}
	var folders []string
	for _, pattern := range []string{
		filepath.Join(root, "*"+PackageSuffix),
		filepath.Join(root, "*.gbai", "*"+PackageSuffix),
	} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "glob %s", pattern)
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.IsDir() {
				folders = append(folders, m)
			}
		}
	}
	sort.Strings(folders)
	return folders, nil
}

// newCallers builds the HTTP façade callers of botID.
func newCallers(cfg *am.Config, botID string, log *zap.SugaredLogger) (rpc.Set, error) {
	client := httpclient.NewLoopbackClient(time.Duration(cfg.RPC.TimeoutSeconds) * time.Second)
	return rpc.NewHTTPSet(cfg.RPC.BaseURL, botID, client, log)
}

// newEngine builds the script engine for botID with callers.
func newEngine(cfg *am.Config, callers rpc.Set, debug bool, log *zap.SugaredLogger) *sandbox.Engine {
	httpTimeout := time.Duration(cfg.RPC.HTTPModuleTimeoutSeconds) * time.Second
	e := sandbox.NewEngine(callers, httpclient.NewSaferClient(httpTimeout), log)
	e.Debug = debug
	return e
}

func sandboxLimits(cfg *am.Config) sandbox.Limits {
	size := cfg.Sandbox.PoolSize
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return sandbox.Limits{
		Time:        cfg.Sandbox.Time(),
		MemoryBytes: cfg.Sandbox.MemoryBytes(),
		CPUPercent:  cfg.Sandbox.CPUPercent,
		CPUStrikes:  cfg.Sandbox.CPUStrikes,
		Sample:      cfg.Sandbox.SampleInterval(),
		Size:        size,
	}
}

// newBackend builds the configured backend. Pooled workers are child
// processes running the worker command unless sandbox.in_process is set.
func newBackend(cfg *am.Config, mode string, engine *sandbox.Engine, log *zap.SugaredLogger) (sandbox.Backend, error) {
	var launcher sandbox.Launcher
	if mode == sandbox.ModePooled && !cfg.Sandbox.InProcess {
		launcher = sandbox.ProcessLauncher{
			Args: func(key sandbox.PoolKey) []string {
				args := []string{"worker", "--bot", key.BotID, "--rpc-base", cfg.RPC.BaseURL}
				if key.Debug {
					args = append(args, "--debug")
				}
				return args
			},
			Log: log,
		}
	}
	return sandbox.NewBackend(sandbox.Config{
		Mode:          mode,
		DirectTimeout: cfg.Sandbox.DirectTimeout(),
		Limits:        sandboxLimits(cfg),
	}, engine, launcher, log)
}

// newLoader builds the loader of botID. scheduler may be nil.
func newLoader(cfg *am.Config, botID string, scheduler loader.Scheduler, log *zap.SugaredLogger) *loader.Loader {
	opts := loader.Options{
		BotID:       botID,
		StripEnd:    cfg.Dialog.NoEnd,
		AuthLogin:   cfg.Dialog.Auth,
		HotSwap:     cfg.Dialog.HotSwap,
		Window:      cfg.Dialog.Freshness(),
		Provisioner: deps.NewInstaller(cfg.Dialog.InstallCommand, version.Engine(), log),
	}
	if scheduler != nil {
		opts.Scheduler = scheduler
	}
	return loader.New(opts, log)
}
