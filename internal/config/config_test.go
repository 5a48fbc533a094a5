package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefaults(t *testing.T) {
	t.Setenv(EnvVar, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.RegistryPath() != filepath.Join("bin", "platforms.yml") {
		t.Errorf("registry path = %s", cfg.RegistryPath())
	}
	if cfg.EventsPath() != filepath.Join("bin", "events.db") {
		t.Errorf("events path = %s", cfg.EventsPath())
	}
	if !cfg.SerializeWrites {
		t.Error("writes not serialized by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "espota.yaml")
	doc := `
listen: ":8080"
data_dir: /srv/ota
shutdown_timeout: 3s
remote_logs:
  dir: /var/log/esp
  keep_days: 14
events:
  db: "off"
  nats_url: nats://localhost:4222
viewer:
  args: ["{file}"]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvVar, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8080" || cfg.RegistryPath() != "/srv/ota/platforms.yml" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.RemoteLogs.KeepDays != 14 || cfg.EventsPath() != "" {
		t.Errorf("remote logs = %+v, events = %q", cfg.RemoteLogs, cfg.EventsPath())
	}
	// Untouched sections keep their defaults.
	if cfg.Viewer.Command != "frontail" || cfg.Log.Level != "info" {
		t.Errorf("defaults lost: %+v %+v", cfg.Viewer, cfg.Log)
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"tls mode":     func(c *Config) { c.TLS.Mode = "maybe" },
		"acme domains": func(c *Config) { c.TLS.Mode = TLSACME },
		"custom files": func(c *Config) { c.TLS.Mode = TLSCustom },
		"log level":    func(c *Config) { c.Log.Level = "loud" },
		"log format":   func(c *Config) { c.Log.Format = "xml" },
		"upload cap":   func(c *Config) { c.MaxUploadBytes = 0 },
		"keep days":    func(c *Config) { c.RemoteLogs.KeepDays = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestApplyFlagsOnlyCopiesSetFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := Default()
	AddFlags(fs, flags)
	if err := fs.Parse([]string{"--listen", ":9000", "--serialize-writes=false"}); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.DataDir = "/from/file"
	ApplyFlags(fs, cfg, flags)

	if cfg.Listen != ":9000" || cfg.SerializeWrites {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.DataDir != "/from/file" {
		t.Errorf("unset flag overrode file value: %s", cfg.DataDir)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("listen: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("err = %v", err)
	}
}
