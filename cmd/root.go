package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/imgsearch/internal/config"
)

// Version is the application version.
const Version = "0.1.0"

var (
	cfgFile string
	// cfg is resolved before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "imgsearch",
	Short:   "Visual similarity search client",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command until it finishes or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./imgsearch.toml)")
	rootCmd.PersistentFlags().String("backend", "", "Search backend URL (default: http://localhost:8000)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Search request timeout (default: 30s)")
	rootCmd.PersistentFlags().String("image-base", "", "Base URL for /images/<filename> references")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}
