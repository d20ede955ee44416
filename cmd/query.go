package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/imgsearch/internal/logging"
	"github.com/example/imgsearch/internal/render"
	"github.com/example/imgsearch/internal/search"
	"github.com/example/imgsearch/internal/searchclient"
	"github.com/example/imgsearch/internal/ui"
)

var queryTopK int

var queryCmd = &cobra.Command{
	Use:   "query <image_path>",
	Short: "Find indexed images similar to the given image",
	Long: `Upload an image to the search backend and list the matches scoring at
least 80%. Image references are resolved against --image-base, or the backend
URL when unset.

Example:
  imgsearch query cat.jpg
  imgsearch query cat.jpg --topk 10 --backend http://search:8000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if queryTopK <= 0 {
			return fmt.Errorf("--topk must be a positive integer, got %d", queryTopK)
		}

		logger := logging.NewConsoleLogger(cfg.Log.Debug)
		defer func() { _ = logger.Sync() }()

		client, err := searchclient.New(cfg.Backend.URL, cfg.Backend.Timeout, logger)
		if err != nil {
			return err
		}

		imageBase := cfg.Images.BaseURL
		if imageBase == "" {
			imageBase = cfg.Backend.URL
		}
		controller := ui.NewController(client, imageBase, logger)
		return runQuery(cmd.Context(), controller, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], queryTopK, logger)
	},
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "topk", "k", 5, "Number of results to request")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(ctx context.Context, controller *ui.Controller, out, status io.Writer, imagePath string, topk int, logger *zap.Logger) error {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		logger.Error("failed to read image", zap.String("path", imagePath), zap.Error(err))
		return fmt.Errorf("reading image: %w", err)
	}

	view := render.NewTerminalView(out, status)
	_, err = controller.Submit(ctx, view, ui.Selection{
		Image:    image,
		Filename: filepath.Base(imagePath),
		Limit:    topk,
	})
	if flushErr := view.Flush(); flushErr != nil {
		logger.Warn("failed to write results", zap.Error(flushErr))
	}
	if err != nil {
		if errors.Is(err, search.ErrNoInputSelected) {
			return fmt.Errorf("image %s is empty", imagePath)
		}
		return err
	}
	return nil
}
