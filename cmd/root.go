package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lance13c/casepilot/internal/config"
	"github.com/lance13c/casepilot/internal/logging"
)

var (
	cfgFile   string
	appConfig *config.Config
	loader    *config.Loader
	configErr error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "casepilot",
	Short: "casepilot - AI-driven browser test cases",
	Long: `casepilot runs test cases written as plain-language browser actions
("tap the login button", "assert the cart shows 2 items") against a real
Chrome, using an AI model to find elements and check the page.

A case is a YAML or JSON list of actions. Use 'validate' to check one,
'run' to execute it, 'watch' to re-run it on save and 'generate' to have
the model write one from a request.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with ctx and returns the process exit code
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if _, failed := err.(caseFailedError); !failed {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .casepilot/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().StringP("project", "p", ".", "project directory")
	rootCmd.PersistentFlags().StringP("model", "m", "", "model to use, a known ID or provider:model-name")
}

// initConfig sets up logging and reads the config file and environment
func initConfig() {
	startTime := time.Now()
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	projectDir, _ := rootCmd.PersistentFlags().GetString("project")

	if err := logging.Initialize(projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logging: %v\n", err)
	} else {
		logging.RedirectStandardLog()
	}

	loader = config.NewLoader(projectDir)
	if cfgFile != "" {
		loader.WithFile(cfgFile)
	}
	appConfig, configErr = loader.Load()
	if configErr != nil {
		logging.Warn("Failed to load config: %v", configErr)
		return
	}

	if level, err := logging.ParseLevel(appConfig.Log.Level); err != nil {
		logging.Warn("%v", err)
	} else {
		logging.GetLogger().SetLevel(level)
	}
	if verbose {
		logging.GetLogger().SetLevel(logging.DEBUG)
	}

	if selection, _ := rootCmd.PersistentFlags().GetString("model"); selection != "" {
		model, err := config.ParseModelSelection(selection)
		if err != nil {
			configErr = err
			return
		}
		appConfig.AI.ApplyModel(model)
		if p, ok := config.LookupProvider(model.Provider); ok && p.KeyEnv != "" {
			if key := os.Getenv(p.KeyEnv); key != "" {
				appConfig.AI.APIKey = key
			}
		}
	}

	logging.Debug("Config loaded in %v (provider %s, model %s)", time.Since(startTime), appConfig.AI.Provider, appConfig.AI.Model)
}

// requireConfig returns the loaded config or the reason it could not be loaded
func requireConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	if appConfig == nil {
		return nil, fmt.Errorf("configuration was not loaded")
	}
	return appConfig, nil
}

// caseFailedError makes a command exit 1 after it already reported the failure
type caseFailedError struct {
	status string
}

func (e caseFailedError) Error() string {
	return "case " + e.status
}
