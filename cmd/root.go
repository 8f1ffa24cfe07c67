package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"billextract/internal/config"
	"billextract/internal/logger"
)

var version = "1.0.0"

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "billextract",
	Short: "Extract structured data from telecom and utility bill PDFs",
	Long: `billextract turns telecom and utility bill PDFs into validated JSON records.

Each document is analyzed with Google Document AI (or Cloud Vision), classified
as a single-location (SLB) or multi-location (MLB) bill through the account
registry, split into service locations when needed, extracted with a language
model, validated, and finally archived. Valid records go to the archive folder,
everything that needs a human look goes to the audit folder.

Configuration is read from the environment (a .env file is loaded first) and
optionally from a YAML file passed with --config.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := logger.Setup(loaded.GetLoggerConfig()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		return nil
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (environment variables take precedence)")
}
