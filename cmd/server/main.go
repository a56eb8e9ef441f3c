package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/hrguard/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "hrguard",
		Short:        "Security anomaly detection and incident consolidation for HR audit events",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "configs/hrguard.yaml", "path to YAML config")

	root.AddCommand(newServeCmd(&cfgPath), newDrainCmd(&cfgPath))
	return root
}

// loadConfig reads and validates the config file and installs the default logger.
func loadConfig(path string) (*config.Loader, *slog.Logger, error) {
	loader, err := config.NewLoader(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(loader.Config().Log)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return loader, logger, nil
}

func newLogger(conf config.LogConf) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(conf.Level)); err != nil {
		return nil, fmt.Errorf("log.level %q: %w", conf.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(conf.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("log.format %q is not one of text, json", conf.Format)
	}
}
