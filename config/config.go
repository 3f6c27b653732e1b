package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cyberinferno/go-wsexchange/logger"
)

// Defaults shared by both binaries.
const (
	DefaultPort     = 8080
	DefaultPath     = "/"
	DefaultHost     = "esp32-server.local"
	DefaultBindHost = "0.0.0.0"
	DefaultOffset   = 9 * time.Hour
	DefaultInterval = time.Second
	DefaultTimeout  = 10 * time.Second
	DefaultMetrics  = "/metrics"
	maxOffset       = 24 * time.Hour
)

// LogSection configures logging.
type LogSection struct {
	Level string `koanf:"level"`
	// Dir enables daily log files when non-empty.
	Dir string `koanf:"dir"`
}

// ClientConfig is the configuration of wsexchange-client.
type ClientConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Path     string        `koanf:"path"`
	Offset   time.Duration `koanf:"offset"`
	Interval time.Duration `koanf:"interval"`
	Timeout  time.Duration `koanf:"timeout"`
	Log      LogSection    `koanf:"log"`
}

// ServerConfig is the configuration of wsexchange-server.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	Path string `koanf:"path"`
	// Metrics is the HTTP path serving Prometheus metrics; empty disables it.
	Metrics string     `koanf:"metrics"`
	Log     LogSection `koanf:"log"`
}

// DefaultClient returns the client configuration used when nothing is set.
func DefaultClient() *ClientConfig {
	return &ClientConfig{
		Host:     DefaultHost,
		Port:     DefaultPort,
		Path:     DefaultPath,
		Offset:   DefaultOffset,
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
		Log:      LogSection{Level: "info"},
	}
}

// DefaultServer returns the server configuration used when nothing is set.
func DefaultServer() *ServerConfig {
	return &ServerConfig{
		Host:    DefaultBindHost,
		Port:    DefaultPort,
		Path:    DefaultPath,
		Metrics: DefaultMetrics,
		Log:     LogSection{Level: "info"},
	}
}

// Validate reports the first invalid client setting.
func (c *ClientConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}
	if err := verifyPath("path", c.Path); err != nil {
		return err
	}
	if c.Offset <= -maxOffset || c.Offset >= maxOffset {
		return fmt.Errorf("offset %s must be within ±24h", c.Offset)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval %s must not be negative", c.Interval)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout %s must not be negative", c.Timeout)
	}

	return verifyLog(&c.Log)
}

// Validate reports the first invalid server setting. Port 0 picks a free
// port.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 0-65535", c.Port)
	}
	if err := verifyPath("path", c.Path); err != nil {
		return err
	}
	if c.Metrics != "" {
		if err := verifyPath("metrics", c.Metrics); err != nil {
			return err
		}
		if c.Metrics == c.Path {
			return fmt.Errorf("metrics path %q collides with websocket path", c.Metrics)
		}
	}

	return verifyLog(&c.Log)
}

// Addr returns the listen address, e.g. "0.0.0.0:8080".
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func verifyPath(name, path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%s %q must start with /", name, path)
	}

	return nil
}

func verifyLog(l *LogSection) error {
	_, err := logger.ParseLevel(l.Level)
	return err
}
