package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/gbvm/am"
	"github.com/teranos/gbvm/basic/loader"
	"github.com/teranos/gbvm/basic/sandbox"
	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/logger"
	"github.com/teranos/gbvm/pulse/schedule"
)

// DaemonCmd loads every package under dialog.root and fires scheduled scripts
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Load every dialog package and run scheduled scripts",
	Long: `Start the gbvm daemon in foreground mode.

The daemon will:
- Compile every <bot>.gbdialog package under dialog.root
- Watch packages for saved scripts when dialog.hot_swap is set
- Fire scripts on the cron expressions of their SET SCHEDULE directives
- Run until interrupted (Ctrl+C), finishing running scripts first`,
	RunE: runDaemon,
}

var daemonStatsInterval time.Duration

func init() {
	DaemonCmd.Flags().DurationVar(&daemonStatsInterval, "stats-interval", time.Minute, "Interval of sandbox stats logging (0 disables)")
}

// bot is the loaded runtime of one dialog package.
type bot struct {
	id         string
	loader     *loader.Loader
	dispatcher *sandbox.Dispatcher
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logger.ComponentLogger("daemon")

	folders, err := discoverPackages(cfg.Dialog.Root)
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStore(database)
	scheduler := schedule.NewScheduler(store, log)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if cfg.Schedule.RetentionDays > 0 {
		n, err := schedule.NewExecutionStore(database).CleanupOldExecutions(ctx, cfg.Schedule.RetentionDays)
		if err != nil {
			log.Warnw("Failed to clean up run history", logger.FieldError, err)
		} else if n > 0 {
			log.Infow("Cleaned up run history", "deleted", n, "retention_days", cfg.Schedule.RetentionDays)
		}
	}

	processes := sandbox.NewProcessTable()
	bots := make(map[string]*bot, len(folders))
	defer func() {
		for _, b := range bots {
			if err := errors.CombineErrors(b.loader.Close(), b.dispatcher.Close()); err != nil {
				log.Warnw("Failed to close bot", logger.FieldBot, b.id, logger.FieldError, err)
			}
		}
	}()

	for _, folder := range folders {
		b, err := startBot(ctx, cfg, folder, scheduler, processes)
		if err != nil {
			pterm.Error.Printf("%s: %v\n", folder, err)
			continue
		}
		bots[b.id] = b
	}
	pterm.Success.Printf("Loaded %d of %d dialog package(s) from %s\n", len(bots), len(folders), cfg.Dialog.Root)

	var ticker *schedule.Ticker
	if cfg.Schedule.Enabled {
		runner := schedule.RunnerFunc(func(ctx context.Context, job *schedule.Job) error {
			b, ok := bots[job.BotID]
			if !ok {
				return errors.NewNotFoundError("bot %s is not loaded", job.BotID)
			}
			if timeout := cfg.Schedule.RunTimeout(); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			_, err := b.dispatcher.Start(ctx, job.ScriptName, sandbox.Session{
				BotID:  job.BotID,
				UserID: "scheduler",
			})
			return err
		})
		ticker = schedule.NewTicker(ctx, store, runner, schedule.TickerConfig{
			Interval: cfg.Schedule.TickerInterval(),
			Batch:    cfg.Schedule.Batch,
		}, log)
		ticker.Start()
		pterm.Info.Printf("Scheduler ticking every %s\n", cfg.Schedule.TickerInterval())
	}

	if daemonStatsInterval > 0 {
		go logStats(ctx, daemonStatsInterval, bots, processes, log)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	pterm.Info.Println("Shutting down...")
	if ticker != nil {
		ticker.Stop()
	}
	cancel()
	pterm.Success.Println("gbvm daemon stopped")
	return nil
}

func startBot(ctx context.Context, cfg *am.Config, folder string, scheduler loader.Scheduler, processes *sandbox.ProcessTable) (*bot, error) {
	id := botIDFor(folder)
	log := logger.Logger.With(logger.FieldBot, id)

	l := newLoader(cfg, id, scheduler, log)
	rep, err := l.LoadPackage(ctx, folder)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	for name, failure := range rep.Failed {
		log.Errorw("Script failed to load", logger.FieldScript, name, logger.FieldError, failure)
	}

	callers, err := newCallers(cfg, id, log)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	backend, err := newBackend(cfg, cfg.Mode(), newEngine(cfg, callers, false, log), log)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	d := sandbox.NewDispatcher(l, backend, sandbox.DispatcherOptions{
		DefaultLocale: cfg.Dialog.ContentLanguage,
		Processes:     processes,
	}, log)

	log.Infow("Dialog package loaded",
		logger.FieldFolder, folder,
		"compiled", len(rep.Compiled),
		"reused", len(rep.Reused),
		"failed", len(rep.Failed))
	return &bot{id: id, loader: l, dispatcher: d}, nil
}

func logStats(ctx context.Context, every time.Duration, bots map[string]*bot, processes *sandbox.ProcessTable, log *zap.SugaredLogger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for id, b := range bots {
			stats := b.dispatcher.Backend().Stats()
			log.Debugw("Sandbox stats",
				logger.FieldBot, id,
				logger.FieldMode, stats.Mode,
				"pools", stats.Pools,
				"memory_percent", stats.Host.MemoryPercent)
		}
		log.Debugw("Running scripts", "count", processes.Len())
	}
}
