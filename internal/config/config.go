// Package config loads the server configuration.
//
// Configuration comes from a YAML file named by the --config flag or the
// ESP_CONFIG environment variable. Without either the built-in defaults are
// used. Command-line flags override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "ESP_CONFIG"

// Config is the server configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// DataDir holds published binaries and, by default, the registry and
	// event ledger.
	DataDir string `yaml:"data_dir"`

	// RegistryFile overrides <data_dir>/platforms.yml.
	RegistryFile string `yaml:"registry_file"`

	// SerializeWrites holds a writer lock around every registry update.
	SerializeWrites bool `yaml:"serialize_writes"`

	// MaxUploadBytes caps firmware uploads.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Log        LogConfig        `yaml:"log"`
	RemoteLogs RemoteLogsConfig `yaml:"remote_logs"`
	Events     EventsConfig     `yaml:"events"`
	TLS        TLSConfig        `yaml:"tls"`
	Admin      AdminConfig      `yaml:"admin"`
	Viewer     ViewerConfig     `yaml:"viewer"`
}

// LogConfig configures the server's own log output.
type LogConfig struct {
	// Level is a zerolog level name.
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// RemoteLogsConfig configures the device log sink.
type RemoteLogsConfig struct {
	Dir string `yaml:"dir"`
	// KeepDays prunes rotated files beyond this many per stream. Zero keeps all.
	KeepDays int `yaml:"keep_days"`
}

// EventsConfig configures the event ledger and its publication.
type EventsConfig struct {
	// DB is the SQLite path. Empty means <data_dir>/events.db; "off"
	// disables the ledger.
	DB string `yaml:"db"`
	// NATSURL enables publication when set.
	NATSURL string `yaml:"nats_url"`
	// Subject is the prefix events are published under.
	Subject string `yaml:"subject"`
}

// TLSConfig selects how the listener is secured.
type TLSConfig struct {
	// Mode is one of off, self-signed, acme, custom.
	Mode     string   `yaml:"mode"`
	Dir      string   `yaml:"dir"`
	Domains  []string `yaml:"domains"`
	CertFile string   `yaml:"cert_file"`
	KeyFile  string   `yaml:"key_file"`
}

// AdminConfig protects the administration API.
type AdminConfig struct {
	// TokenHashes are hex SHA-256 digests of accepted bearer tokens.
	// Empty leaves the API open.
	TokenHashes []string `yaml:"token_hashes"`
}

// ViewerConfig describes the external log viewer.
type ViewerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	BaseURL string   `yaml:"base_url"`
}

// TLS modes.
const (
	TLSOff        = "off"
	TLSSelfSigned = "self-signed"
	TLSACME       = "acme"
	TLSCustom     = "custom"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:          ":5000",
		DataDir:         "./bin",
		SerializeWrites: true,
		MaxUploadBytes:  16 << 20,
		ShutdownTimeout: 10 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RemoteLogs: RemoteLogsConfig{
			Dir: "./remotelogs",
		},
		Events: EventsConfig{
			Subject: "espota.events",
		},
		TLS: TLSConfig{
			Mode: TLSOff,
		},
		Viewer: ViewerConfig{
			Command: "frontail",
			BaseURL: "http://0.0.0.0:9001",
		},
	}
}

// Load reads path over the defaults. An empty path falls back to
// ESP_CONFIG; when that is unset too the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// RegistryPath returns the platform registry file.
func (c *Config) RegistryPath() string {
	if c.RegistryFile != "" {
		return c.RegistryFile
	}
	return filepath.Join(c.DataDir, "platforms.yml")
}

// EventsPath returns the ledger database path, or "" when disabled.
func (c *Config) EventsPath() string {
	switch c.Events.DB {
	case "off":
		return ""
	case "":
		return filepath.Join(c.DataDir, "events.db")
	default:
		return c.Events.DB
	}
}

// TLSDir returns where generated certificates are kept.
func (c *Config) TLSDir() string {
	if c.TLS.Dir != "" {
		return c.TLS.Dir
	}
	return filepath.Join(c.DataDir, "tls")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("listen is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir is required"))
	}
	if c.RemoteLogs.Dir == "" {
		errs = append(errs, fmt.Errorf("remote_logs.dir is required"))
	}
	if c.RemoteLogs.KeepDays < 0 {
		errs = append(errs, fmt.Errorf("remote_logs.keep_days must not be negative"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_upload_bytes must be positive"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format must be json or console"))
	}

	switch c.TLS.Mode {
	case TLSOff, TLSSelfSigned:
	case TLSACME:
		if len(c.TLS.Domains) == 0 {
			errs = append(errs, fmt.Errorf("tls.domains is required for acme"))
		}
	case TLSCustom:
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			errs = append(errs, fmt.Errorf("tls.cert_file and tls.key_file are required for custom"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid tls.mode: %q", c.TLS.Mode))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// AddFlags registers override flags bound to dst.
func AddFlags(fs *pflag.FlagSet, dst *Config) {
	fs.StringVar(&dst.Listen, "listen", dst.Listen, "HTTP listen address")
	fs.StringVar(&dst.DataDir, "data-dir", dst.DataDir, "directory for firmware binaries")
	fs.StringVar(&dst.RegistryFile, "registry", dst.RegistryFile, "platform registry file (default <data-dir>/platforms.yml)")
	fs.BoolVar(&dst.SerializeWrites, "serialize-writes", dst.SerializeWrites, "serialize registry updates")
	fs.StringVar(&dst.RemoteLogs.Dir, "log-dir", dst.RemoteLogs.Dir, "directory for device logs")
	fs.StringVar(&dst.Log.Level, "log-level", dst.Log.Level, "log level (debug, info, warn, error)")
	fs.StringVar(&dst.Log.Format, "log-format", dst.Log.Format, "log format (json, console)")
	fs.StringVar(&dst.Events.DB, "events-db", dst.Events.DB, `event ledger path ("off" disables)`)
	fs.StringVar(&dst.Events.NATSURL, "nats-url", dst.Events.NATSURL, "publish events to this NATS server")
	fs.StringVar(&dst.TLS.Mode, "tls", dst.TLS.Mode, "TLS mode (off, self-signed, acme, custom)")
}

// ApplyFlags copies the flags the user set from src into cfg.
func ApplyFlags(fs *pflag.FlagSet, cfg, src *Config) {
	apply := map[string]func(){
		"listen":           func() { cfg.Listen = src.Listen },
		"data-dir":         func() { cfg.DataDir = src.DataDir },
		"registry":         func() { cfg.RegistryFile = src.RegistryFile },
		"serialize-writes": func() { cfg.SerializeWrites = src.SerializeWrites },
		"log-dir":          func() { cfg.RemoteLogs.Dir = src.RemoteLogs.Dir },
		"log-level":        func() { cfg.Log.Level = src.Log.Level },
		"log-format":       func() { cfg.Log.Format = src.Log.Format },
		"events-db":        func() { cfg.Events.DB = src.Events.DB },
		"nats-url":         func() { cfg.Events.NATSURL = src.Events.NATSURL },
		"tls":              func() { cfg.TLS.Mode = src.TLS.Mode },
	}
	fs.Visit(func(f *pflag.Flag) {
		if fn, ok := apply[f.Name]; ok {
			fn()
		}
	})
}
