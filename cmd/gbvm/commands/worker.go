package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/gbvm/am"
	"github.com/teranos/gbvm/basic/sandbox"
	"github.com/teranos/gbvm/logger"
)

// WorkerCmd is the pooled sandbox worker. The daemon starts one child
// process per pool slot; requests arrive on stdin and responses leave on
// stdout, both CBOR encoded.
var WorkerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Serve sandbox invocations over stdin/stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

var (
	workerBot     string
	workerRPCBase string
	workerDebug   bool
)

func init() {
	WorkerCmd.Flags().StringVar(&workerBot, "bot", "", "Bot id the worker serves")
	WorkerCmd.Flags().StringVar(&workerRPCBase, "rpc-base", "", "Override rpc.base_url")
	WorkerCmd.Flags().BoolVar(&workerDebug, "debug", false, "Log console.debug output of scripts")
	_ = WorkerCmd.MarkFlagRequired("bot")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if workerRPCBase != "" {
		cfg.RPC.BaseURL = workerRPCBase
	}
	log := logger.Logger.With(logger.FieldBot, workerBot, logger.FieldWorkerID, os.Getpid())

	callers, err := newCallers(cfg, workerBot, log)
	if err != nil {
		return err
	}
	engine := newEngine(cfg, callers, workerDebug, log)
	return sandbox.ServeWorker(cmd.Context(), os.Stdin, os.Stdout, engine, log)
}
