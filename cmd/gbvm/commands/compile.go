package commands

import (
	"fmt"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/gbvm/am"
	"github.com/teranos/gbvm/basic/loader"
	"github.com/teranos/gbvm/logger"
)

// CompileCmd compiles every script of one or more dialog packages
var CompileCmd = &cobra.Command{
	Use:   "compile [folder...]",
	Short: "Compile dialog packages",
	Long: `Compile every script of the given dialog packages, or of every package
under dialog.root when none is given. Fresh artifacts are reused; a script
that fails does not stop the others.

Examples:
  gbvm compile
  gbvm compile work/mybot.gbdialog`,
	RunE: runCompile,
}

func runCompile(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	folders := args
	if len(folders) == 0 {
		if folders, err = discoverPackages(cfg.Dialog.Root); err != nil {
			return err
		}
	}
	if len(folders) == 0 {
		pterm.Warning.Printf("No dialog packages under %s\n", cfg.Dialog.Root)
		return nil
	}

	// The watcher is for daemons only.
	cfg.Dialog.HotSwap = false

	var failed int
	for _, folder := range folders {
		botID := botIDFor(folder)
		l := newLoader(cfg, botID, nil, logger.Logger)
		rep, err := l.LoadPackage(cmd.Context(), folder)
		_ = l.Close()
		if err != nil {
			pterm.Error.Printf("%s: %v\n", folder, err)
			failed++
			continue
		}
		printReport(botID, rep)
		failed += len(rep.Failed)
	}
	if failed > 0 {
		return fmt.Errorf("%d script(s) failed to compile", failed)
	}
	return nil
}

func printReport(botID string, rep *loader.Report) {
	data := pterm.TableData{{"Script", "Status", "Detail"}}
	for _, name := range rep.Compiled {
		data = append(data, []string{name, pterm.Green("compiled"), ""})
	}
	for _, name := range rep.Reused {
		data = append(data, []string{name, "reused", ""})
	}
	for _, name := range sortedKeys(rep.Failed) {
		data = append(data, []string{name, pterm.Red("failed"), rep.Failed[name].Error()})
	}
	for _, name := range sortedKeys(rep.Warnings) {
		data = append(data, []string{name, pterm.Yellow("warning"), rep.Warnings[name].Error()})
	}

	pterm.DefaultSection.Println(botID)
	if rep.Provisioned {
		pterm.Info.Println("Dependencies installed")
	}
	if len(data) == 1 {
		pterm.Info.Println("No scripts")
		return
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
