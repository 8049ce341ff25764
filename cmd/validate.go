package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lance13c/casepilot/internal/action"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Check case files without running them",
	Long: `Validate parses each case file and checks every action against the
action contract. It reports the first problem in each file, or the list of
steps the file would run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		failed := 0
		for _, path := range args {
			if err := validateFile(cmd.OutOrStdout(), path, asJSON); err != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d case file(s) invalid", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().Bool("json", false, "print the validated sequence as JSON")
}

// validateFile reports on one case file and returns its validation error
func validateFile(out io.Writer, path string, asJSON bool) error {
	c, err := loadCase(path)
	if err != nil {
		fmt.Fprintf(out, "✗ %s: %v\n", path, err)
		return err
	}
	seq, err := action.ParseCode(c.Code)
	if err != nil {
		fmt.Fprintf(out, "✗ %s: %v\n", path, err)
		return err
	}

	if asJSON {
		data, err := json.MarshalIndent(seq, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "✓ %s: %d step(s)\n", path, len(seq.Actions))
	for i, a := range seq.Actions {
		fmt.Fprintf(out, "  %2d. %-16s %s\n", i+1, a.Type(), a.Describe())
	}
	return nil
}
