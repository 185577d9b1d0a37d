package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mall-resolver/internal/config"
	"github.com/mall-resolver/internal/debug"
)

var (
	configFile string
	localDebug bool
	cfg        *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "mallmatch",
		Short: "Store to mall entity resolution",
		Long:  `Resolves branded store locations to the shopping malls that contain them, deduplicates the mall catalog and routes uncertain matches to review`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configFile)
			if err != nil {
				return err
			}
			cfg = loaded

			level := cfg.Log.Level
			if localDebug {
				level = "debug"
			}
			debug.SetupLogger(level, cfg.Log.Pretty, os.Stderr)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&localDebug, "debug", false, "Enable debug output")

	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createClusterCmd())
	rootCmd.AddCommand(createResolveCmd())
	rootCmd.AddCommand(createEnhanceCmd())
	rootCmd.AddCommand(createReviewCmd())
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createTuneCmd())
	rootCmd.AddCommand(createPingCmd())
	rootCmd.AddCommand(createSchemaCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
