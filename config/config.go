// Package config loads the settings shared by the echo server and client
// binaries: built-in defaults, then an optional TOML file, then environment
// variables prefixed with PORTAL_ECHO_.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// EnvPrefix is stripped from environment variable names. A single underscore
// separates nesting levels and a double underscore is a literal underscore,
// so PORTAL_ECHO_CLIENT_MAX__RECONNECT sets client.max_reconnect.
const EnvPrefix = "PORTAL_ECHO_"

type Config struct {
	Server ServerConfig `koanf:"server"`
	Client ClientConfig `koanf:"client"`
	Log    LogConfig    `koanf:"log"`
}

type ServerConfig struct {
	// Port is the local HTTP port; negative disables the local listener.
	Port         int      `koanf:"port"`
	Name         string   `koanf:"name"`
	RelayURLs    []string `koanf:"relay_urls"`
	CredKey      string   `koanf:"cred_key"`
	Description  string   `koanf:"description"`
	Tags         []string `koanf:"tags"`
	Hide         bool     `koanf:"hide"`
	DataPath     string   `koanf:"data_path"`
	HistoryLimit int      `koanf:"history_limit"`
}

type ClientConfig struct {
	Origin string `koanf:"origin"`
	// MaxReconnect of zero disables automatic reconnects.
	MaxReconnect   int           `koanf:"max_reconnect"`
	ReconnectDelay time.Duration `koanf:"reconnect_delay"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8000,
			Name:         "echo",
			Description:  "Portal demo: websocket echo",
			Tags:         []string{"echo", "websocket"},
			HistoryLimit: 100,
		},
		Client: ClientConfig{
			Origin:         "http://127.0.0.1:8000",
			MaxReconnect:   5,
			ReconnectDelay: 3 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
		s = strings.ReplaceAll(s, "_", ".")
		return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Server.Name) == "" {
		errs = append(errs, errors.New("server.name is required"))
	}
	if c.Server.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("server.history_limit must be >= 0, got %d", c.Server.HistoryLimit))
	}
	if c.Client.MaxReconnect < 0 {
		errs = append(errs, fmt.Errorf("client.max_reconnect must be >= 0, got %d", c.Client.MaxReconnect))
	}
	if c.Client.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("client.reconnect_delay must be positive, got %s", c.Client.ReconnectDelay))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// RelayList flattens comma-separated entries and drops blanks.
func (s ServerConfig) RelayList() []string {
	var out []string
	for _, raw := range s.RelayURLs {
		for _, p := range strings.Split(raw, ",") {
			if u := strings.TrimSpace(p); u != "" {
				out = append(out, u)
			}
		}
	}
	return out
}
