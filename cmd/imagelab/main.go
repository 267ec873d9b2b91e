package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vbonduro/imagelab/internal/config"
	"github.com/vbonduro/imagelab/internal/dispatch"
	"github.com/vbonduro/imagelab/internal/imagesource/local"
	"github.com/vbonduro/imagelab/internal/logging"
	"github.com/vbonduro/imagelab/internal/registry"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "imagelab",
	Short: "Client for object detection, visual question answering and image generation backends",
	Long: `imagelab loads an image and sends it to one of three AI backends:

  detect  object detection (runs automatically when an image is loaded)
  vqa     visual question answering
  imggen  image generation from a text prompt

Backends are configured with DETECT_URL, VQA_URL and IMGGEN_URL or a YAML
file given with --config or IMAGELAB_CONFIG.

Examples:
  imagelab repl
  imagelab serve --addr :8090
  imagelab health --config imagelab.yaml`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "YAML config file (default $IMAGELAB_CONFIG)")
	rootCmd.AddCommand(replCmd, serveCmd, healthCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// app holds what every subcommand needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	client   *dispatch.Client
	library  *local.Library
	cleanup  func()
}

func (a *app) close() {
	a.cleanup()
}

func loadConfig() (*config.Config, error) {
	path := configFlag
	if path == "" {
		path = os.Getenv("IMAGELAB_CONFIG")
	}
	if path == "" {
		return config.Load(), nil
	}
	return config.LoadFile(path)
}

func setup(interactive bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return nil, err
	}

	logger, cleanup, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Interactive: interactive})
	if err != nil {
		log.Printf("failed to initialize logger: %v", err)
		return nil, err
	}

	reg, err := registry.FromConfig(cfg)
	if err != nil {
		logger.Error("invalid service configuration", "error", err)
		cleanup()
		return nil, err
	}

	library, err := local.NewLibrary(cfg.ImageDir, cfg.MaxImageBytes)
	if err != nil {
		logger.Error("failed to open image directory", "dir", cfg.ImageDir, "error", err)
		cleanup()
		return nil, err
	}

	for _, d := range reg.All() {
		logger.Debug("service configured", "service", d.ID, "endpoint", d.EndpointURL)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		client:   dispatch.NewClient(reg, cfg.RequestTimeout, logger),
		library:  library,
		cleanup:  cleanup,
	}, nil
}
