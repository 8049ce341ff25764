package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lance13c/casepilot/internal/logging"
	"github.com/lance13c/casepilot/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch FILE|DIR...",
	Short: "Re-run case files whenever they are saved",
	Long: `Watch runs each given case file once, then again every time it changes
on disk. Given a directory it watches every case file in it. Progress is
printed as plain lines so successive runs stay readable. Stop with Ctrl+C.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig()
		if err != nil {
			return err
		}
		opts, err := runOptionsFromFlags(cmd, cfg)
		if err != nil {
			return err
		}
		opts.noTUI = true
		out := cmd.OutOrStdout()

		rerun := func(ctx context.Context, files []string) error {
			var errs []error
			for _, path := range files {
				fmt.Fprintf(out, "\n▶ %s\n", path)
				c, err := executeCaseFile(ctx, cfg, path, opts)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					fmt.Fprintf(out, "Error: %v\n", err)
					continue
				}
				logging.Info("Watched case %s finished: %s", path, c.Status)
			}
			return errors.Join(errs...)
		}

		fw, err := watcher.NewFileWatcher(args, cfg.Watch.Debounce(), rerun)
		if err != nil {
			return err
		}

		if initial, _ := cmd.Flags().GetBool("initial"); initial {
			var files []string
			for _, a := range args {
				if isFile(a) {
					files = append(files, a)
				}
			}
			if err := rerun(cmd.Context(), files); err != nil {
				logging.Warn("Initial run failed: %v", err)
			}
		}

		fmt.Fprintf(out, "Watching %d path(s) for changes. Press Ctrl+C to stop.\n", len(args))
		if err := fw.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addRunFlags(watchCmd)
	watchCmd.Flags().Bool("initial", true, "run the given case files once before watching")
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
