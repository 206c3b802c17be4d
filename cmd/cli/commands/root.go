// Package commands implements the media-stage command line.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sho7650/media-stage/internal/config"
	"github.com/sho7650/media-stage/internal/logger"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "media-stage",
	Short: "Inspect and exercise the media-stage preload cache",
	Long: `media-stage checks configuration, preloads media, and inspects the
preload history kept by the daemon.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel != "" {
			if _, ok := logger.ParseLevel(logLevel); !ok {
				return fmt.Errorf("invalid log level: %s", logLevel)
			}
			logger.SetLevel(logLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "WARN", "Log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(preloadCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(playersCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig(ctx context.Context) (*config.Config, error) {
	return config.NewConfigManager().LoadFromFile(ctx, cfgFile)
}
