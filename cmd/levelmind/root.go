package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/levelmind/levelmind-go/internal/app"
	"github.com/levelmind/levelmind-go/internal/config"
	"github.com/levelmind/levelmind-go/internal/monitoring"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	configPath string
	envFile    string
	logLevel   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "levelmind",
		Short:         "LevelMind offline audio core",
		Long:          "Fetches the song catalog, downloads tracks for offline use and keeps the local registry of downloaded audio.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to settings.json (default: data directory)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newServeCmd(),
		newCatalogCmd(),
		newDownloadCmd(),
		newDownloadsCmd(),
		newJobsCmd(),
	)
	return root
}

// loadConfig reads .env into the environment, then the JSON settings.
// Variables already set in the environment win over the .env file.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openApp builds the application from configuration. Command-line tools
// log to the file only so their output stays readable.
func openApp(ctx context.Context, interactive bool) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logCfg := monitoring.LogConfigFrom(cfg.Logging)
	if interactive && logCfg.Output == "both" {
		logCfg.Output = "file"
	}

	logger, err := monitoring.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		logger.Sync()
		return nil, err
	}
	return a, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		a.Logger.Warn("shutdown error", zap.Error(err))
	}
	a.Logger.Sync()
}
