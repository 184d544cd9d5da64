package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfigFile(t, "site:\n  id: test-site\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Engine.TickInterval != 60 {
		t.Errorf("Engine.TickInterval = %d, want 60", cfg.Engine.TickInterval)
	}
	if !cfg.Database.WALMode {
		t.Error("Database.WALMode = false, want true by default")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
site:
  id: home
  timezone: Europe/London
  location:
    latitude: 51.5
    longitude: -0.12
engine:
  tick_interval: 30
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Site.Timezone != "Europe/London" {
		t.Errorf("Site.Timezone = %q, want Europe/London", cfg.Site.Timezone)
	}
	if cfg.Engine.TickInterval != 30 {
		t.Errorf("Engine.TickInterval = %d, want 30", cfg.Engine.TickInterval)
	}
	if got := cfg.GetTickInterval(); got != 30*time.Second {
		t.Errorf("GetTickInterval() = %v, want 30s", got)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
site:
  id: home
mqtt:
  broker:
    host: file-host
`)

	t.Setenv("HAVEN_MQTT_HOST", "env-host")
	t.Setenv("HAVEN_MQTT_PORT", "8883")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.MQTT.Broker.Host != "env-host" {
		t.Errorf("MQTT.Broker.Host = %q, want env-host", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() with missing file should return error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing site id",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "latitude out of range",
			mutate:  func(c *Config) { c.Site.Location.Latitude = 91 },
			wantErr: "latitude",
		},
		{
			name:    "longitude out of range",
			mutate:  func(c *Config) { c.Site.Location.Longitude = -181 },
			wantErr: "longitude",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Site.Timezone = "Mars/Olympus" },
			wantErr: "timezone",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "qos",
		},
		{
			name: "telemetry enabled without url",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Bucket = "haven"
			},
			wantErr: "telemetry.url",
		},
		{
			name:    "zero tick interval",
			mutate:  func(c *Config) { c.Engine.TickInterval = 0 },
			wantErr: "tick_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestTimezoneFallback(t *testing.T) {
	cfg := &Config{}
	if loc := cfg.Timezone(); loc != time.UTC {
		t.Errorf("Timezone() on zero config = %v, want UTC", loc)
	}
}
