package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/lance13c/casepilot/internal/database"
	"github.com/lance13c/casepilot/internal/llm"
	"github.com/lance13c/casepilot/internal/types"
	"github.com/lance13c/casepilot/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history [RUN-ID]",
	Short: "Show past runs",
	Long: `History lists recorded runs, newest first, with totals for all runs.
Given a run ID it shows that run's steps.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig()
		if err != nil {
			return err
		}
		db, err := database.New(loader.ProjectPath(cfg.Storage.DBPath))
		if err != nil {
			return err
		}
		defer db.Close()

		out := cmd.OutOrStdout()
		if prune, _ := cmd.Flags().GetDuration("prune"); prune > 0 {
			n, err := db.DeleteRunsBefore(time.Now().Add(-prune))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted %d run(s) older than %s\n", n, prune)
			return nil
		}
		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID %q", args[0])
			}
			return showRun(out, db, id)
		}
		limit, _ := cmd.Flags().GetInt("limit")
		filter, _ := cmd.Flags().GetString("case")
		return listRuns(out, db, limit, filter)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "number of runs to list")
	historyCmd.Flags().String("case", "", "only runs whose case name or ID matches")
	historyCmd.Flags().Duration("prune", 0, "delete runs older than this, e.g. 720h")
}

func listRuns(out io.Writer, db *database.DB, limit int, filter string) error {
	runs, err := db.ListRuns(limit, filter)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return nil
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("ID", "CASE", "STATUS", "STEPS", "DURATION", "COST", "WHEN")
	for _, r := range runs {
		t.Row(
			strconv.FormatInt(r.ID, 10), r.Name, r.Status,
			fmt.Sprintf("%d/%d", r.PassedSteps, r.TotalSteps),
			ui.FormatDuration(r.Duration), llm.FormatCost(r.Usage.Cost),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	fmt.Fprintln(out, t.String())

	stats, err := db.GetStatistics()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d run(s): %d completed, %d failed, %s tokens, %s\n",
		stats.TotalRuns, stats.Completed, stats.Failed, llm.FormatTokens(stats.Tokens), llm.FormatCost(stats.Cost))
	return nil
}

func showRun(out io.Writer, db *database.DB, id int64) error {
	run, err := db.GetRun(id)
	if err != nil {
		return err
	}
	steps, err := db.RunSteps(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run %d: %s (%s)\n", run.ID, run.Name, run.Source)
	fmt.Fprintf(out, "Status: %s in %s, %s tokens, %s\n",
		run.Status, ui.FormatDuration(run.Duration), llm.FormatTokens(run.Usage.Tokens), llm.FormatCost(run.Usage.Cost))
	if run.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", run.Error)
	}
	fmt.Fprintln(out)
	for _, s := range steps {
		fmt.Fprintf(out, "  %s %2d. %s (%s)\n", ui.Icon(types.StepStatus(s.Status)), s.Index+1, s.Description, ui.FormatDuration(s.Duration))
		if s.Result != "" {
			fmt.Fprintf(out, "       result: %s\n", s.Result)
		}
		if s.Error != "" {
			fmt.Fprintf(out, "       error: %s\n", s.Error)
		}
	}
	return nil
}
