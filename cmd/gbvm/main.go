package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/gbvm/am"
	"github.com/teranos/gbvm/cmd/gbvm/commands"
	"github.com/teranos/gbvm/logger"
)

var rootCmd = &cobra.Command{
	Use:   "gbvm",
	Short: "gbvm - General Bots BASIC engine",
	Long: `gbvm - transpiles General Bots BASIC dialogs and runs them in a sandbox.

Dialog packages live in <root>/<bot>.gbdialog. Every script is transpiled to
an intermediate form, wrapped in the runtime envelope, compiled and cached
beside its source, then executed on behalf of conversation sessions.

Available commands:
  am        - Show and validate configuration
  transpile - Print the intermediate form of a script
  compile   - Compile a dialog package
  run       - Run a script once
  daemon    - Load every package and fire scheduled scripts
  schedule  - Inspect scheduled scripts

Examples:
  gbvm am show                        # Show current configuration
  gbvm compile work/mybot.gbdialog    # Compile every script of a package
  gbvm run work/mybot.gbdialog main   # Run main once
  gbvm daemon                         # Serve all packages under dialog.root`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// am output and the worker protocol own stdout
		if cmd.Name() == "show" || cmd.Name() == "get" {
			return nil
		}
		return initLogger(cmd)
	},
}

func initLogger(cmd *cobra.Command) error {
	level := zapcore.InfoLevel
	jsonOutput := false
	if cfg, err := am.Load(); err == nil {
		jsonOutput = cfg.Log.JSON
		level = logger.ParseLevel(cfg.Log.Level)
	}
	// -v and -vv only ever lower the configured level
	if verbose, _ := cmd.Flags().GetCount("verbose"); verbose > 0 {
		if v := logger.VerbosityToLevel(verbose); v < level {
			level = v
		}
	}
	if err := logger.InitializeWithLevel(jsonOutput, level); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.TranspileCmd)
	rootCmd.AddCommand(commands.CompileCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
