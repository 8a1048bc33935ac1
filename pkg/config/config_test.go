package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got: %v", err)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"odd landscape width", func(c *Config) { c.Compositor.LandscapeWidth = 1281 }},
		{"odd portrait height", func(c *Config) { c.Compositor.PortraitHeight = 1279 }},
		{"odd portrait width side by side", func(c *Config) {
			c.Compositor.PortraitSideBySide = true
			c.Compositor.PortraitWidth = 721
		}},
		{"zero fps", func(c *Config) { c.Recording.FPS = 0 }},
		{"refresh below fps", func(c *Config) { c.Recording.RefreshRate = 24 }},
		{"unknown encoder", func(c *Config) { c.Encoder.Kind = "gif" }},
		{"jpeg quality out of range", func(c *Config) { c.Encoder.JPEGQuality = 0 }},
		{"unknown driver", func(c *Config) { c.Devices.Driver = "v4l2" }},
		{"port range inverted", func(c *Config) {
			c.Devices.WebRTC.PortRange.Min = 50000
			c.Devices.WebRTC.PortRange.Max = 40000
		}},
		{"unknown decoder", func(c *Config) { c.Playback.Decoder = "gstreamer" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Kind = "s3" }},
		{"redis without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"pong before ping", func(c *Config) { c.Notify.PongTimeout = time.Second }},
		{"rate limit without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.RequestsPerSecond = 0
		}},
		{"bad trusted proxy", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.TrustedProxies = []string{"10.0.0.0/8", "proxy.local"}
		}},
		{"rate limit without idle ttl", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.IdleTTL = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Compositor.LandscapeWidth != 1280 || cfg.Compositor.PortraitHeight != 1280 {
		t.Fatalf("unexpected compositor defaults: %+v", cfg.Compositor)
	}
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  address: ":9000"
recording:
  fps: 24
  max_duration: 90s
storage:
  kind: s3
  s3:
    bucket: duets
    region: eu-west-1
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DUETREC_LOG_LEVEL", "debug")
	t.Setenv("DUETREC_S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("DUETREC_REDIS_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":9000" {
		t.Errorf("server.address = %q", cfg.Server.Address)
	}
	if cfg.Recording.FPS != 24 || cfg.Recording.MaxDuration != 90*time.Second {
		t.Errorf("recording = %+v", cfg.Recording)
	}
	if cfg.Recording.RefreshRate != 60 {
		t.Errorf("unset fields keep their defaults, refresh_rate = %d", cfg.Recording.RefreshRate)
	}
	if cfg.Storage.S3.Bucket != "duets" || cfg.Storage.S3.Endpoint != "http://localhost:9000" {
		t.Errorf("storage.s3 = %+v", cfg.Storage.S3)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
	if !cfg.Redis.Enabled {
		t.Error("expected redis enabled from environment")
	}
}

func TestLoad_InvalidEnvFlag(t *testing.T) {
	t.Setenv("DUETREC_TRACING_ENABLED", "sometimes")

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for malformed boolean override")
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("encoder:\n  kind: gif\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidate_StorageKinds(t *testing.T) {
	for _, kind := range []string{"file", "memory"} {
		cfg := DefaultConfig()
		cfg.Storage.Kind = kind
		if err := cfg.Validate(); err != nil {
			t.Fatalf("storage kind %q: unexpected error: %v", kind, err)
		}
	}

	cfg := DefaultConfig()
	cfg.Storage.Kind = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected s3 without bucket to be rejected")
	}

	cfg.Storage.Kind = "ftp"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown storage kind to be rejected")
	}
}
