package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/logsentinel/logsentinel/internal/app"
	"github.com/logsentinel/logsentinel/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config YAML")
	flag.Parse()
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "logsentinel: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	runErr := a.Run(ctx)
	app.WriteSummary(os.Stdout, a.Summary(context.Background()))
	return runErr
}

func newLogger(spec config.LogSpec) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(spec.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if spec.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
