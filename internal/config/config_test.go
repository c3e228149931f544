package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParsePolicy_Defaults(t *testing.T) {
	policy, err := ParsePolicy(nil)
	if err != nil {
		t.Fatalf("ParsePolicy() error = %v", err)
	}

	if policy.DefaultTimeout != 2*time.Minute {
		t.Errorf("DefaultTimeout = %s, want 2m", policy.DefaultTimeout)
	}
	if policy.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval = %s, want 30s", policy.SweepInterval)
	}
	if policy.FutureTolerance != 5*time.Second {
		t.Errorf("FutureTolerance = %s, want 5s", policy.FutureTolerance)
	}
}

func TestParsePolicy_LocationOverride(t *testing.T) {
	policy, err := ParsePolicy([]byte(`
default_timeout: 90s
locations:
  "7":
    timeout: 10m
`))
	if err != nil {
		t.Fatalf("ParsePolicy() error = %v", err)
	}

	if got := policy.Timeout("7", ""); got != 10*time.Minute {
		t.Errorf("Timeout(7) = %s, want 10m", got)
	}
	if got := policy.Timeout("1", ""); got != 90*time.Second {
		t.Errorf("Timeout(1) = %s, want 90s", got)
	}
	// Unset fields keep the embedded defaults.
	if policy.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval = %s, want 30s", policy.SweepInterval)
	}
}

func TestParsePolicy_DeviceTypeOverride(t *testing.T) {
	policy, err := ParsePolicy([]byte(`
default_timeout: 90s
locations:
  "7":
    timeout: 10m
device_types:
  gate:
    timeout: 20s
`))
	if err != nil {
		t.Fatalf("ParsePolicy() error = %v", err)
	}

	tests := []struct {
		location   string
		deviceType string
		want       time.Duration
	}{
		{location: "7", deviceType: "gate", want: 20 * time.Second},
		{location: "1", deviceType: "gate", want: 20 * time.Second},
		{location: "7", deviceType: "scanner", want: 10 * time.Minute},
		{location: "1", deviceType: "", want: 90 * time.Second},
	}
	for _, tt := range tests {
		if got := policy.Timeout(tt.location, tt.deviceType); got != tt.want {
			t.Errorf("Timeout(%q, %q) = %s, want %s", tt.location, tt.deviceType, got, tt.want)
		}
	}
}

func TestParsePolicy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero timeout", "default_timeout: 0s"},
		{"negative sweep", "sweep_interval: -1s"},
		{"bad duration", "default_timeout: soon"},
		{"negative location timeout", "locations:\n  \"1\":\n    timeout: -5s"},
		{"negative device type timeout", "device_types:\n  gate:\n    timeout: -5s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePolicy([]byte(tt.yaml)); err == nil {
				t.Errorf("ParsePolicy(%q) expected error", tt.yaml)
			}
		})
	}
}

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name       string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"unset returns default", "", 8080, 8080},
		{"valid value", "9090", 8080, 9090},
		{"zero returns default", "0", 8080, 8080},
		{"negative returns default", "-1", 8080, 8080},
		{"garbage returns default", "abc", 8080, 8080},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_INT", tt.envValue)
			if got := envInt("TEST_ENV_INT", tt.defaultVal); got != tt.expected {
				t.Errorf("envInt() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_ENV_DURATION", "0s")
	if got := envDuration("TEST_ENV_DURATION", time.Minute); got != 0 {
		t.Errorf("envDuration() = %s, want 0s", got)
	}

	t.Setenv("TEST_ENV_DURATION", "later")
	if got := envDuration("TEST_ENV_DURATION", time.Minute); got != time.Minute {
		t.Errorf("envDuration() = %s, want 1m", got)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("WEB_PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("REGISTRY_CACHE_TTL", "1m")
	t.Setenv("PRESENCE_POLICY_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Web.Port != 9000 {
		t.Errorf("Web.Port = %d, want 9000", cfg.Web.Port)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("Kafka.Brokers = %v, want two brokers", cfg.Kafka.Brokers)
	}
	if cfg.Registry.CacheTTL != time.Minute {
		t.Errorf("Registry.CacheTTL = %s, want 1m", cfg.Registry.CacheTTL)
	}
	if cfg.Auth.TokenIssuer != "presence-hub" {
		t.Errorf("Auth.TokenIssuer = %s, want presence-hub", cfg.Auth.TokenIssuer)
	}
}

func TestLoad_PolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("default_timeout: 45s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PRESENCE_POLICY_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Policy.DefaultTimeout != 45*time.Second {
		t.Errorf("Policy.DefaultTimeout = %s, want 45s", cfg.Policy.DefaultTimeout)
	}

	t.Setenv("PRESENCE_POLICY_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("Load() expected error for missing policy file")
	}
}
