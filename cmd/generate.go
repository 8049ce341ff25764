package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lance13c/casepilot/internal/action"
	"github.com/lance13c/casepilot/internal/browser"
	"github.com/lance13c/casepilot/internal/config"
	"github.com/lance13c/casepilot/internal/llm"
	"github.com/lance13c/casepilot/internal/logging"
	"github.com/lance13c/casepilot/internal/types"
)

// generateAttempts bounds how often the model may retry after writing an invalid case
const generateAttempts = 2

var generateCmd = &cobra.Command{
	Use:   "generate REQUEST",
	Short: "Have the AI write a test case for a request",
	Long: `Generate opens the base URL, shows the page to the model together with
the request, and writes the YAML case it produces. The case is validated
before it is written; an invalid case is sent back to the model once.`,
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
		outPath, _ := cmd.Flags().GetString("out")
		andRun, _ := cmd.Flags().GetBool("run")
		if andRun && outPath == "" {
			return fmt.Errorf("--run needs --out to know where to write the case")
		}

		code, err := generateCase(cmd.Context(), cfg, args[0])
		if err != nil {
			return err
		}

		if outPath == "" {
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(outPath, []byte(code+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to write case: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outPath)

		if !andRun {
			return nil
		}
		c, err := executeCaseFile(cmd.Context(), cfg, outPath, opts)
		if err != nil {
			return err
		}
		if c.Status != types.CaseCompleted {
			return caseFailedError{status: string(c.Status)}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
	addRunFlags(generateCmd)
	generateCmd.Flags().StringP("out", "o", "", "write the case to this file instead of stdout")
	generateCmd.Flags().Bool("run", false, "run the case after writing it")
}

// generateCase asks the model for a case and returns it once it validates
func generateCase(ctx context.Context, cfg *config.Config, request string) (string, error) {
	model, err := llm.New(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to create AI client: %w", err)
	}
	usage := llm.NewUsageTracker(cfg.AI.Provider)
	assistant := llm.NewAssistant(model, usage)

	session, err := browser.NewSession(ctx, cfg, assistant)
	if err != nil {
		return "", err
	}
	defer session.Close()

	page, err := session.PageContext(ctx, true)
	if err != nil {
		return "", err
	}

	goal := request
	var lastErr error
	for attempt := 1; attempt <= generateAttempts; attempt++ {
		text, err := assistant.GenerateCase(ctx, page, goal)
		if err != nil {
			return "", fmt.Errorf("failed to generate case: %w", err)
		}
		code := action.StripFence(text)
		if _, err := action.ParseCode(code); err != nil {
			logging.Warn("Generated case is invalid (attempt %d): %v", attempt, err)
			lastErr = err
			goal = fmt.Sprintf("%s\n\nYour previous answer was rejected: %v\nPrevious answer:\n%s", request, err, code)
			continue
		}
		logging.Info("Generated case for %q (%s)", request, usage.Summary())
		return code, nil
	}
	return "", fmt.Errorf("model did not produce a valid case: %w", lastErr)
}
