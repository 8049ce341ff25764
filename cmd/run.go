package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lance13c/casepilot/internal/action"
	"github.com/lance13c/casepilot/internal/browser"
	"github.com/lance13c/casepilot/internal/config"
	"github.com/lance13c/casepilot/internal/database"
	"github.com/lance13c/casepilot/internal/llm"
	"github.com/lance13c/casepilot/internal/logging"
	"github.com/lance13c/casepilot/internal/runner"
	"github.com/lance13c/casepilot/internal/telemetry"
	"github.com/lance13c/casepilot/internal/types"
	"github.com/lance13c/casepilot/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "Run a test case against the browser",
	Long: `Run parses the case file, starts Chrome on the configured base URL and
executes each step in order, stopping at the first failure. The run is saved
to the local history unless --no-save is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig()
		if err != nil {
			return err
		}
		opts, err := runOptionsFromFlags(cmd, cfg)
		if err != nil {
			return err
		}
		c, err := executeCaseFile(cmd.Context(), cfg, args[0], opts)
		if err != nil {
			return err
		}
		if c.Status != types.CaseCompleted {
			return caseFailedError{status: string(c.Status)}
		}
		return nil
	},
}

// runOptions are the per-invocation settings shared by run and watch
type runOptions struct {
	noTUI  bool
	noSave bool
	listen string
	out    io.Writer
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "base URL to open before the first step")
	cmd.Flags().Bool("headless", true, "run Chrome without a window")
	cmd.Flags().String("listen", "", "serve /metrics and /events on this address while running")
	cmd.Flags().Bool("no-tui", false, "print plain progress lines instead of the live view")
	cmd.Flags().Bool("no-save", false, "do not record the run in the history database")
}

// runOptionsFromFlags applies flag overrides to cfg and collects the rest
func runOptionsFromFlags(cmd *cobra.Command, cfg *config.Config) (runOptions, error) {
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		cfg.Browser.BaseURL = url
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless, _ = cmd.Flags().GetBool("headless")
	}
	opts := runOptions{out: cmd.OutOrStdout()}
	opts.noTUI, _ = cmd.Flags().GetBool("no-tui")
	opts.noSave, _ = cmd.Flags().GetBool("no-save")
	opts.listen, _ = cmd.Flags().GetString("listen")
	if cfg.Storage.Disabled {
		opts.noSave = true
	}
	return opts, nil
}

// loadCase reads a case file. The case is named after the file.
func loadCase(path string) (*types.Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case file: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return types.NewCaseFromCode(name, "", string(data)), nil
}

// executeCaseFile validates the case before starting Chrome, then runs it
// behind the live view or the plain printer and records the result.
func executeCaseFile(ctx context.Context, cfg *config.Config, path string, opts runOptions) (types.Case, error) {
	c, err := loadCase(path)
	if err != nil {
		return types.Case{}, err
	}
	seq, err := action.ParseCode(c.Code)
	if err != nil {
		fmt.Fprintf(opts.out, "%s: invalid case: %v\n", c.Name, err)
		return types.Case{Name: c.Name, Status: types.CaseFailed, Error: err.Error()}, nil
	}
	c.Request = seq.Display.Description

	model, err := llm.New(cfg)
	if err != nil {
		return types.Case{}, fmt.Errorf("failed to create AI client: %w", err)
	}
	usage := llm.NewUsageTracker(cfg.AI.Provider)
	session, err := browser.NewSession(ctx, cfg, llm.NewAssistant(model, usage))
	if err != nil {
		return types.Case{}, err
	}
	defer session.Close()

	o, err := runner.New(c, session, runner.WithStepTimeout(cfg.Execution.StepTimeoutDuration()))
	if err != nil {
		return types.Case{}, err
	}
	defer o.Destroy()

	if opts.listen != "" {
		metrics := telemetry.NewMetrics()
		stream := telemetry.NewStream()
		metrics.Attach(o)
		stream.Attach(o)
		srv := telemetry.NewServer(metrics, stream)
		if err := srv.Start(opts.listen); err != nil {
			return types.Case{}, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	interactive := !opts.noTUI && opts.out == os.Stdout && ui.IsInteractive(os.Stdout)
	if !interactive {
		ui.NewPrinter(opts.out).Attach(o)
	}

	if err := o.Parse(); err != nil {
		return o.GetTestCase(), nil
	}

	var final types.Case
	if interactive {
		final, err = ui.Run(ctx, o, opts.out)
	} else {
		err = o.Execute(ctx)
		final = o.GetTestCase()
	}
	if err != nil {
		return final, err
	}

	fmt.Fprintf(opts.out, "AI usage: %s\n", usage.Summary())
	if !opts.noSave {
		if id, err := saveRun(cfg, &final, path, usage); err != nil {
			logging.Warn("Failed to save run: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: run not saved: %v\n", err)
		} else {
			logging.Info("Saved run %d for case %s", id, final.Name)
		}
	}
	if errors.Is(ctx.Err(), context.Canceled) && final.Status == types.CaseStopped {
		fmt.Fprintln(opts.out, "Run interrupted")
	}
	return final, nil
}

// saveRun records a finished case and its model spend in the history database
func saveRun(cfg *config.Config, c *types.Case, source string, usage *llm.UsageTracker) (int64, error) {
	db, err := database.New(loader.ProjectPath(cfg.Storage.DBPath))
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var spent database.Usage
	for _, tot := range usage.Totals() {
		spent.Tokens += int64(tot.Usage.TotalTokens)
		spent.Cost += tot.Cost
	}
	return db.SaveRun(c, source, spent)
}
