package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/gbvm/am"
	"github.com/teranos/gbvm/internal/util"
	"github.com/teranos/gbvm/pulse/schedule"
)

// ScheduleCmd inspects the schedules registered by SET SCHEDULE directives
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect scheduled scripts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var scheduleLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List schedules and their recent runs",
	Long: `List the schedules registered by SET SCHEDULE directives.

Examples:
  gbvm schedule ls
  gbvm schedule ls --bot mybot --runs 5`,
	RunE: runScheduleLs,
}

var (
	scheduleBot  string
	scheduleRuns int
)

func init() {
	scheduleLsCmd.Flags().StringVar(&scheduleBot, "bot", "", "Only list schedules of this bot")
	scheduleLsCmd.Flags().IntVar(&scheduleRuns, "runs", 0, "Show the last N runs of every schedule")

	ScheduleCmd.AddCommand(scheduleLsCmd)
}

func runScheduleLs(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	jobs, err := schedule.NewStore(database).List(ctx, scheduleBot)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		pterm.Info.Println("No schedules")
		return nil
	}

	data := pterm.TableData{{"Bot", "Script", "Cron", "Next run", "Last run", "Status"}}
	for _, job := range jobs {
		data = append(data, []string{
			job.BotID,
			job.ScriptName,
			job.Cron,
			formatTime(job.NextRunAt),
			formatTime(job.LastRunAt),
			status(job.LastStatus, job.LastError),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	if scheduleRuns <= 0 {
		return nil
	}
	execs := schedule.NewExecutionStore(database)
	for _, job := range jobs {
		runs, err := execs.ListExecutions(ctx, job.ID, scheduleRuns)
		if err != nil {
			return err
		}
		pterm.DefaultSection.Printf("%s/%s\n", job.BotID, job.ScriptName)
		if len(runs) == 0 {
			pterm.Info.Println("No runs")
			continue
		}
		runData := pterm.TableData{{"Started", "Duration", "Status"}}
		for _, run := range runs {
			duration := "-"
			if run.DurationMs != nil {
				duration = (time.Duration(*run.DurationMs) * time.Millisecond).String()
			}
			errText := util.ValueOr(run.ErrorMessage, "")
			runData = append(runData, []string{run.StartedAt, duration, status(run.Status, errText)})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(runData).Render(); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func status(s, errText string) string {
	switch s {
	case schedule.StatusCompleted:
		return pterm.Green(s)
	case schedule.StatusFailed:
		if errText != "" {
			return pterm.Red(s) + ": " + strconv.Quote(errText)
		}
		return pterm.Red(s)
	case "":
		return "-"
	}
	return s
}
