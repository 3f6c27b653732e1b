package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/cyberinferno/go-wsexchange/config"
	"github.com/cyberinferno/go-wsexchange/echo"
	"github.com/cyberinferno/go-wsexchange/logger"
	"github.com/cyberinferno/go-wsexchange/metrics"
	"github.com/cyberinferno/go-wsexchange/wsserver"
)

const serviceName = "wsexchange-server"

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// flagKeys maps CLI flags to configuration keys.
var flagKeys = map[string]string{
	"host":         "host",
	"port":         "port",
	"path":         "path",
	"metrics-path": "metrics",
	"log-level":    "log.level",
	"log-dir":      "log.dir",
}

func newApp() *cli.App {
	return &cli.App{
		Name:    serviceName,
		Usage:   "accept exchange clients and acknowledge every message",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to YAML configuration file"},
			&cli.StringFlag{Name: "host", Usage: "bind address", Value: config.DefaultBindHost},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "socket port", Value: config.DefaultPort},
			&cli.StringFlag{Name: "path", Usage: "websocket endpoint path", Value: config.DefaultPath},
			&cli.StringFlag{Name: "metrics-path", Usage: "prometheus metrics path, empty to disable", Value: config.DefaultMetrics},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Value: "info"},
			&cli.StringFlag{Name: "log-dir", Usage: "also write daily log files to this directory"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, c)
		},
	}
}

func run(ctx context.Context, c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg, c.App.Writer)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Close()

	log.Info(fmt.Sprintf("args.port=%d", cfg.Port))

	m := metrics.NewServer()
	srv := wsserver.NewServer(wsserver.Config{
		Name:             serviceName,
		Addr:             cfg.Addr(),
		Path:             cfg.Path,
		MetricsPath:      cfg.Metrics,
		HandshakeTimeout: 10 * time.Second,
	}, echo.NewHandler(log), log, wsserver.WithMetrics(m))

	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	srv.Stop()
	return nil
}

func loadConfig(c *cli.Context) (*config.ServerConfig, error) {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			overrides[key] = c.Value(flag)
		}
	}

	cfg := config.DefaultServer()
	loader := config.NewLoader(
		config.WithConfigFile(c.String("config")),
		config.WithEnvPrefix(config.ServerEnvPrefix),
		config.WithOverrides(overrides),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func newLogger(cfg *config.ServerConfig, out io.Writer) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	if cfg.Log.Dir != "" {
		return logger.NewZerologFileLogger(serviceName, cfg.Log.Dir, level, out)
	}

	return logger.NewConsoleLogger(serviceName, level, out), nil
}
