package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
api:
  base_url: https://moment.example.com
  ws_base_url: wss://moment.example.com
identity:
  path: /tmp/moment-identity.json
redis:
  addr: localhost:6379
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.BaseURL != "https://moment.example.com" {
		t.Errorf("API.BaseURL = %q, want %q", cfg.API.BaseURL, "https://moment.example.com")
	}
	if cfg.Identity.Path != "/tmp/moment-identity.json" {
		t.Errorf("Identity.Path = %q, want %q", cfg.Identity.Path, "/tmp/moment-identity.json")
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q, want %q", cfg.Redis.Addr, "localhost:6379")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_REDIS_PASSWORD", "secret123")

	yaml := `
api:
  base_url: https://moment.example.com
  ws_base_url: wss://moment.example.com
redis:
  addr: localhost:6379
  password: ${TEST_REDIS_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Redis.Password != "secret123" {
		t.Errorf("Redis.Password = %q, want %q", cfg.Redis.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
api:
  base_url: https://moment.example.com
  ws_base_url: wss://moment.example.com
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.API.Timeout != DefaultAPITimeout {
		t.Errorf("API.Timeout = %v, want default %v", cfg.API.Timeout, DefaultAPITimeout)
	}
	if cfg.Connection.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("Connection.ReconnectBaseDelay = %v, want default %v",
			cfg.Connection.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Connection.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Connection.ReconnectMaxDelay = %v, want default %v",
			cfg.Connection.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.Subscription.AckTimeout != DefaultAckTimeout {
		t.Errorf("Subscription.AckTimeout = %v, want default %v",
			cfg.Subscription.AckTimeout, DefaultAckTimeout)
	}
	if cfg.Identity.Path != DefaultIdentityPath {
		t.Errorf("Identity.Path = %q, want default %q", cfg.Identity.Path, DefaultIdentityPath)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		API: APIConfig{
			BaseURL:   "https://moment.example.com",
			WSBaseURL: "wss://moment.example.com",
		},
		Connection: ConnectionConfig{
			ReconnectBaseDelay: time.Second,
			ReconnectMaxDelay:  30 * time.Second,
			BufferSize:         256,
		},
		Subscription: SubscriptionConfig{AckTimeout: 3 * time.Second},
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.API.BaseURL = "" },
			wantErr: "api.base_url is required",
		},
		{
			name:    "missing ws url",
			mutate:  func(c *Config) { c.API.WSBaseURL = "" },
			wantErr: "api.ws_base_url is required",
		},
		{
			name:    "http scheme for ws url",
			mutate:  func(c *Config) { c.API.WSBaseURL = "https://moment.example.com" },
			wantErr: `api.ws_base_url must be a ws:// or wss:// URL, got "https://moment.example.com"`,
		},
		{
			name: "max delay below base delay",
			mutate: func(c *Config) {
				c.Connection.ReconnectMaxDelay = 500 * time.Millisecond
			},
			wantErr: "connection.reconnect_max_delay (500ms) cannot be below reconnect_base_delay (1s)",
		},
		{
			name:    "zero ack timeout",
			mutate:  func(c *Config) { c.Subscription.AckTimeout = 0 },
			wantErr: "subscription.ack_timeout must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
