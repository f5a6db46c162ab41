package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr bool
		check   func(*Config) bool
	}{
		{"default.base_url", "https://api.example.com/api", false, func(c *Config) bool { return c.Default.BaseURL == "https://api.example.com/api" }},
		{"default.socket_url", "wss://rt.example.com", false, func(c *Config) bool { return c.Default.SocketURL == "wss://rt.example.com" }},
		{"auth.token", "tok", false, func(c *Config) bool { return c.Auth.Token == "tok" }},
		{"auth.user_id", "u-1", false, func(c *Config) bool { return c.Auth.UserID == "u-1" }},
		{"auth.role", "ADMIN", false, func(c *Config) bool { return c.Auth.Role == "ADMIN" }},
		{"default.unknown", "x", true, nil},
		{"auth.password", "x", true, nil},
		{"other.field", "x", true, nil},
		{"nodot", "x", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := &Config{}
			err := setConfigValue(cfg, tt.key, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for key %q", tt.key)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("value not applied for %q: %+v", tt.key, cfg)
			}
		})
	}
}

func TestConfigRoundTrip(t *testing.T) {
	home := t.TempDir()
	orig := configHome
	configHome = func() (string, error) { return home, nil }
	t.Cleanup(func() { configHome = orig })

	t.Run("MissingFile", func(t *testing.T) {
		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.Auth.Token != "" || cfg.Default.BaseURL != "" {
			t.Errorf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		want := &Config{
			Default: ConfigDefault{BaseURL: "https://api.example.com/api"},
			Auth:    ConfigAuth{Token: "secret-token", UserID: "u-1", Role: "USER"},
		}
		if err := saveConfig(want); err != nil {
			t.Fatalf("saveConfig: %v", err)
		}
		info, err := os.Stat(filepath.Join(home, ".trucksbus", "config.toml"))
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
		}

		got, err := loadConfig()
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if *got != *want {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
		}
	})
}

func TestMaskKey(t *testing.T) {
	if got := maskKey("short"); got != "****" {
		t.Errorf("expected ****, got %q", got)
	}
	if got := maskKey("abcd1234efgh"); got != "abcd...efgh" {
		t.Errorf("expected abcd...efgh, got %q", got)
	}
}

func TestCleanConfigValue(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		want    string
		wantErr bool
	}{
		{"default.base_url", "https://api.example.com/api/", "https://api.example.com/api", false},
		{"default.base_url", "wss://rt.example.com", "", true},
		{"default.base_url", "api.example.com", "", true},
		{"default.socket_url", "wss://rt.example.com/", "wss://rt.example.com", false},
		{"default.socket_url", "ftp://rt.example.com", "", true},
		{"auth.role", " admin ", "ADMIN", false},
		{"auth.role", "owner", "", true},
		{"auth.user_id", "u-1", "u-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := cleanConfigValue(tt.key, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRenderConfigMasksToken(t *testing.T) {
	cfg := &Config{Auth: ConfigAuth{Token: "abcd1234efgh", UserID: "u-1"}}

	masked, err := renderConfig(cfg, false)
	if err != nil {
		t.Fatalf("renderConfig: %v", err)
	}
	if strings.Contains(masked, "abcd1234efgh") || !strings.Contains(masked, "abcd...efgh") {
		t.Errorf("token should be masked:\n%s", masked)
	}
	if cfg.Auth.Token != "abcd1234efgh" {
		t.Fatal("rendering must not modify the config")
	}

	revealed, err := renderConfig(cfg, true)
	if err != nil {
		t.Fatalf("renderConfig: %v", err)
	}
	if !strings.Contains(revealed, "abcd1234efgh") {
		t.Errorf("token should be shown with reveal:\n%s", revealed)
	}
}
