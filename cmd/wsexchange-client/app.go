package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/cyberinferno/go-wsexchange/config"
	"github.com/cyberinferno/go-wsexchange/exchange"
	"github.com/cyberinferno/go-wsexchange/logger"
	"github.com/cyberinferno/go-wsexchange/wsclient"
	"github.com/cyberinferno/go-wsexchange/wserrors"
)

const serviceName = "wsexchange-client"

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var flagKeys = map[string]string{
	"host":      "host",
	"port":      "port",
	"path":      "path",
	"offset":    "offset",
	"interval":  "interval",
	"timeout":   "timeout",
	"log-level": "log.level",
}

func newApp() *cli.App {
	return &cli.App{
		Name:    serviceName,
		Usage:   "send timestamps to an exchange server and print the replies",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to YAML configuration file"},
			&cli.StringFlag{Name: "host", Usage: "server host name", Value: config.DefaultHost},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "server port", Value: config.DefaultPort},
			&cli.StringFlag{Name: "path", Usage: "websocket endpoint path", Value: config.DefaultPath},
			&cli.DurationFlag{Name: "offset", Usage: "UTC offset of sent timestamps", Value: config.DefaultOffset},
			&cli.DurationFlag{Name: "interval", Usage: "pause between exchanges", Value: config.DefaultInterval},
			&cli.DurationFlag{Name: "timeout", Usage: "resolve and connect timeout", Value: config.DefaultTimeout},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Value: "info"},
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

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	log := logger.NewConsoleLogger(serviceName, level, c.App.ErrWriter)
	defer log.Close()

	client := wsclient.NewClient(wsclient.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		Path:              cfg.Path,
		ConnectionTimeout: cfg.Timeout,
	}, log, wsclient.WithOutput(c.App.Writer))

	if err := client.Connect(ctx); err != nil {
		var resErr *wserrors.ResolutionError
		if errors.As(err, &resErr) {
			return fmt.Errorf("gethostbyname fail: %w", err)
		}
		return fmt.Errorf("connect fail: %w", err)
	}
	defer client.Close()

	loop := exchange.NewLoop(client, exchange.Config{
		Offset:   cfg.Offset,
		Interval: cfg.Interval,
	}, log, exchange.WithOutput(c.App.Writer))

	// Closing the connection is the only way to unblock a pending Receive.
	stopClose := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stopClose()

	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	log.Info("exchange stopped", logger.Field{Key: "cycles", Value: loop.Cycles()},
		logger.Field{Key: "endpoint", Value: client.EndpointURI()})
	return nil
}

func loadConfig(c *cli.Context) (*config.ClientConfig, error) {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			overrides[key] = c.Value(flag)
		}
	}

	cfg := config.DefaultClient()
	loader := config.NewLoader(
		config.WithConfigFile(c.String("config")),
		config.WithEnvPrefix(config.ClientEnvPrefix),
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
