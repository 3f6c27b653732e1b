// Package config loads client and server settings. Values are merged with
// priority flag > env > file > default using koanf.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variable prefixes of the two binaries.
const (
	ClientEnvPrefix = "WSX_CLIENT_"
	ServerEnvPrefix = "WSX_SERVER_"
)

var errReadBytesNotSupported = errors.New("config: ReadBytes not supported by map provider")

// Loader merges configuration sources into a target struct tagged with koanf.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	overrides map[string]any
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix. An empty prefix
// disables environment loading.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the YAML configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithOverrides sets values that win over every other source. Keys use the
// dotted form, e.g. "log.level". Used for explicitly set CLI flags.
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		l.overrides = values
	}
}

// NewLoader creates a configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k: koanf.New("."),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load reads the file, the environment and the overrides, in that order, and
// unmarshals the result over target. Fields absent from every source keep
// the values target already holds, so callers pass a struct filled with
// defaults.
func (l *Loader) Load(target any) error {
	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("load file %s: %w", l.filePath, err)
		}
	}

	if l.envPrefix != "" {
		prefix := l.envPrefix
		transform := func(s string) string {
			s = strings.TrimPrefix(s, prefix)
			return strings.ReplaceAll(strings.ToLower(s), "_", ".")
		}

		if err := l.k.Load(env.Provider(prefix, ".", transform), nil); err != nil {
			return fmt.Errorf("load env: %w", err)
		}
	}

	if len(l.overrides) > 0 {
		if err := l.k.Load(unflatten(l.overrides), nil); err != nil {
			return fmt.Errorf("load overrides: %w", err)
		}
	}

	if err := l.k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	return nil
}

// Keys returns every key loaded from any source.
func (l *Loader) Keys() []string {
	return l.k.Keys()
}

// mapProvider feeds an in-memory map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errReadBytesNotSupported
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}

// unflatten turns {"log.level": "debug"} into {"log": {"level": "debug"}}.
func unflatten(flat map[string]any) mapProvider {
	out := mapProvider{}
	for key, val := range flat {
		parts := strings.Split(key, ".")
		cur := map[string]any(out)
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = val
	}

	return out
}
