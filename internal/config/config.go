// Package config defines service configuration and its layered loading:
// defaults, optional YAML file, environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Feed driver names.
const (
	FeedDriverPostgres = "postgres"
	FeedDriverNats     = "nats"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	Database Database `koanf:"database"`
	Feed     Feed     `koanf:"feed"`
}

// Database holds Postgres connection settings for the matches store.
type Database struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	SSLMode  string `koanf:"sslmode"`
}

// DSN returns the Postgres connection URL.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// Feed holds change feed settings.
type Feed struct {
	// Driver selects the transport: postgres (LISTEN/NOTIFY) or nats
	// (JetStream).
	Driver string `koanf:"driver"`

	// Channel is the NOTIFY channel for the postgres driver.
	Channel string `koanf:"channel"`

	// ResubscribeWait is the backoff between resubscription attempts after a
	// feed disconnect.
	ResubscribeWait time.Duration `koanf:"resubscribe_wait"`

	Nats NatsFeed `koanf:"nats"`
}

// NatsFeed holds JetStream driver settings.
type NatsFeed struct {
	URL           string `koanf:"url"`
	Stream        string `koanf:"stream"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Addr:     ":8080",
		Database: Database{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			Name:    "dohockey",
			SSLMode: "disable",
		},
		Feed: Feed{
			Driver:          FeedDriverPostgres,
			Channel:         "matches_live_changes",
			ResubscribeWait: 2 * time.Second,
			Nats: NatsFeed{
				URL:           "nats://localhost:4222",
				Stream:        "MATCH_CHANGES",
				SubjectPrefix: "matches.live",
			},
		},
	}
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (Default())
//  2. file (YAML) if LIVEVIEW_CONFIG is set
//  3. env (prefix LIVEVIEW_, double underscore nests:
//     LIVEVIEW_DATABASE__HOST -> database.host)
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("LIVEVIEW_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	envProvider := env.Provider("LIVEVIEW_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "LIVEVIEW_"))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := *Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	switch c.Feed.Driver {
	case FeedDriverPostgres, FeedDriverNats:
	default:
		return fmt.Errorf("unknown feed driver %q", c.Feed.Driver)
	}
	if c.Feed.ResubscribeWait <= 0 {
		return errors.New("feed resubscribe_wait must be positive")
	}
	return nil
}
