package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Mode: "debug"},
		Database: DatabaseConfig{Driver: "sqlite"},
		Queue:    QueueConfig{Type: "memory"},
		AI:       AIConfig{Provider: "gemini"},
	}
}

func TestValidate(t *testing.T) {
	if err := (&Config{}).Validate(); err == nil {
		t.Fatalf("empty config should fail")
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.Server.Mode = "prod" }, "server mode"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "database driver"},
		{"bad queue", func(c *Config) { c.Queue.Type = "kafka" }, "queue type"},
		{"bad provider", func(c *Config) { c.AI.Provider = "llama" }, "ai provider"},
		{"short secret", func(c *Config) {
			c.Server.Mode = "release"
			c.Auth.Enabled = true
			c.JWT.Secret = "short"
		}, "JWT secret"},
		{"short secret without auth", func(c *Config) {
			c.Server.Mode = "release"
			c.JWT.Secret = "short"
		}, ""},
	}
	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if tc.want == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: want error containing %q got %v", tc.name, tc.want, err)
		}
	}
}

func TestAITimeout(t *testing.T) {
	if (AIConfig{}).Timeout() != 60*time.Second {
		t.Fatalf("default timeout should be 60s")
	}
	if (AIConfig{TimeoutSeconds: 5}).Timeout() != 5*time.Second {
		t.Fatalf("configured timeout not honoured")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	for _, key := range []string{"PORT", "SERVER_MODE", "QUEUE_TYPE", "STORAGE_TYPE", "UPLOAD_DIR", "AI_PROVIDER", "DATABASE_DRIVER"} {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	uploads := filepath.Join(dir, "uploads")
	yaml := "server:\n  port: \"9100\"\n  mode: test\n" +
		"storage:\n  type: local\n  local_path: " + uploads + "\n" +
		"queue:\n  workers: 3\n" +
		"jwt:\n  expire_hours: 2\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9100" || cfg.Server.Mode != "test" || cfg.Queue.Workers != 3 {
		t.Fatalf("file values not applied: %+v", cfg.Server)
	}
	if cfg.Queue.Type != "memory" || cfg.Rasterizer.DPI != 200 || cfg.Server.MaxUploadMB != 25 {
		t.Fatalf("defaults not applied: queue=%s dpi=%d upload=%d", cfg.Queue.Type, cfg.Rasterizer.DPI, cfg.Server.MaxUploadMB)
	}
	if cfg.JWT.ExpireTime != 2*time.Hour {
		t.Fatalf("expire time: want=2h got=%v", cfg.JWT.ExpireTime)
	}
	if _, err := os.Stat(uploads); err != nil {
		t.Fatalf("local storage dir should be created: %v", err)
	}
}
