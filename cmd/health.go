package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/imgsearch/internal/logging"
	"github.com/example/imgsearch/internal/searchclient"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the search backend is up and has an index loaded",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		logger := logging.NewConsoleLogger(cfg.Log.Debug)
		defer func() { _ = logger.Sync() }()

		client, err := searchclient.New(cfg.Backend.URL, cfg.Backend.Timeout, logger)
		if err != nil {
			return err
		}

		status, err := client.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("backend %s unhealthy: %w", cfg.Backend.URL, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "status: %s\ndevice: %s\nindexed images: %d\n", status.Status, status.Device, status.IndexSize)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
