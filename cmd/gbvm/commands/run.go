package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/gbvm/am"
	"github.com/teranos/gbvm/basic/keywords"
	"github.com/teranos/gbvm/basic/rpc"
	"github.com/teranos/gbvm/basic/sandbox"
	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/logger"
)

// RunCmd runs one script of a dialog package once
var RunCmd = &cobra.Command{
	Use:   "run <folder> <script>",
	Short: "Run a script once",
	Long: `Compile a dialog package and run one of its scripts for a single session.

Façade calls go to rpc.base_url. With --echo the dialog façade is served by
the terminal instead: TALK prints, HEAR reads a line from stdin. Echo runs
always use the direct backend.

Examples:
  gbvm run work/mybot.gbdialog main --echo
  gbvm run work/mybot.gbdialog report --user u1 --data '{"month": 3}'`,
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

var (
	runUser   string
	runLocale string
	runData   string
	runEcho   bool
	runDebug  bool
)

func init() {
	RunCmd.Flags().StringVar(&runUser, "user", "cli", "User id of the session")
	RunCmd.Flags().StringVar(&runLocale, "locale", "", "Session locale (default: dialog.content_language)")
	RunCmd.Flags().StringVar(&runData, "data", "", "JSON value bound to the script's data variable")
	RunCmd.Flags().BoolVar(&runEcho, "echo", false, "Serve the dialog façade from the terminal")
	RunCmd.Flags().BoolVar(&runDebug, "debug", false, "Log console.debug output of the script")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	folder, script := args[0], args[1]
	botID := botIDFor(folder)
	ctx := cmd.Context()
	log := logger.Logger.With(logger.FieldBot, botID)

	session := sandbox.Session{
		BotID:  botID,
		UserID: runUser,
		Locale: runLocale,
		Debug:  runDebug,
	}
	if runData != "" {
		if err := json.Unmarshal([]byte(runData), &session.Data); err != nil {
			return fmt.Errorf("invalid --data: %w", err)
		}
	}

	cfg.Dialog.HotSwap = false
	l := newLoader(cfg, botID, nil, log)
	defer l.Close()
	rep, err := l.LoadPackage(ctx, folder)
	if err != nil {
		return err
	}
	if failure, ok := rep.Failed[script]; ok {
		return failure
	}

	callers, err := newCallers(cfg, botID, log)
	if err != nil {
		return err
	}
	mode := cfg.Mode()
	if runEcho {
		callers[keywords.Dialog] = echoDialog(cmd.InOrStdin(), cmd.OutOrStdout(), log)
		mode = sandbox.ModeDirect
	}
	engine := newEngine(cfg, callers, runDebug, log)
	backend, err := newBackend(cfg, mode, engine, log)
	if err != nil {
		return err
	}
	d := sandbox.NewDispatcher(l, backend, sandbox.DispatcherOptions{
		DefaultLocale: cfg.Dialog.ContentLanguage,
	}, log)
	defer d.Close()

	value, err := d.Start(ctx, script, session)
	if err != nil {
		var failure *sandbox.Failure
		if errors.As(err, &failure) && failure.Line > 0 {
			pterm.Error.Printf("%s line %d: %s\n", failure.Script, failure.Line, failure.Message)
		}
		return err
	}

	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// echoDialog serves talk and getHear from a terminal. Other dialog
// operations are logged and return nothing.
func echoDialog(in io.Reader, out io.Writer, log *zap.SugaredLogger) rpc.Caller {
	lines := bufio.NewScanner(in)
	return rpc.CallerFunc(func(ctx context.Context, op string, args map[string]any) (any, error) {
		switch op {
		case "talk":
			fmt.Fprintln(out, args["text"])
			return nil, nil
		case "getHear":
			fmt.Fprint(out, "> ")
			if kind, ok := args["kind"].(string); ok && kind != "" {
				fmt.Fprintf(out, "(%s) ", kind)
			}
			if !lines.Scan() {
				if err := lines.Err(); err != nil {
					return nil, err
				}
				return "", nil
			}
			return strings.TrimSpace(lines.Text()), nil
		}
		log.Infow("Dialog call", logger.FieldOperation, op, "args", args)
		return nil, nil
	})
}
