package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teranos/gbvm/am"
	"github.com/teranos/gbvm/basic/assemble"
	"github.com/teranos/gbvm/basic/extract"
	"github.com/teranos/gbvm/basic/keywords"
	"github.com/teranos/gbvm/basic/transpile"
	"github.com/teranos/gbvm/logger"
)

// TranspileCmd prints the intermediate form of one authored document
var TranspileCmd = &cobra.Command{
	Use:   "transpile <file>",
	Short: "Print the intermediate form of a script",
	Long: `Transpile an authored document (.bas, .txt, .md or .vbs) and print the
resulting intermediate code. INCLUDE targets resolve against the document's
folder. With --lines the assembled-to-source line map is printed as well.

Examples:
  gbvm transpile work/mybot.gbdialog/main.bas
  gbvm transpile --lines work/mybot.gbdialog/main.vbs`,
	Args: cobra.ExactArgs(1),
	RunE: runTranspile,
}

var transpileLines bool

func init() {
	TranspileCmd.Flags().BoolVar(&transpileLines, "lines", false, "Print the line map")
}

func runTranspile(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	path := args[0]
	ctx := cmd.Context()

	var text string
	if strings.EqualFold(filepath.Ext(path), ".vbs") {
		text, err = extract.PlainText{}.Extract(ctx, path)
	} else {
		text, err = extract.NewRegistry().Extract(ctx, path)
	}
	if err != nil {
		return err
	}

	t := transpile.New(keywords.Default(), transpile.Options{
		StripEnd:     cfg.Dialog.NoEnd,
		AuthLogin:    cfg.Dialog.Auth,
		HeaderOffset: assemble.HeaderLines,
		Resolver:     transpile.DirResolver{Dir: filepath.Dir(path)},
	}, logger.Logger)

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	res, err := t.Transpile(ctx, name, text)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Code)
	if transpileLines {
		fmt.Fprintln(out)
		for _, line := range res.LineMap.Lines() {
			src, _ := res.LineMap.Source(line)
			fmt.Fprintf(out, "%d -> %d\n", line, src)
		}
	}
	return nil
}
