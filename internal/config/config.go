package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/presence-hub/internal/constants"
)

//go:embed policy.yaml
var policyYAML []byte

type Config struct {
	Web      WebConfig
	Auth     AuthConfig
	Registry RegistryConfig
	Database DatabaseConfig
	MariaDB  MariaDBConfig
	MQTT     MQTTConfig
	Kafka    KafkaConfig
	Log      LogConfig
	Policy   PolicyConfig
}

type WebConfig struct {
	Port           int    // defaults to 8080
	Host           string // defaults to 0.0.0.0
	AllowedOrigins []string
}

type AuthConfig struct {
	TokenSecret string // HS256 secret for device tokens; empty disables token checks
	TokenIssuer string // defaults to presence-hub
}

type RegistryConfig struct {
	Backend     string        // static, postgres or mariadb (default static)
	DevicesFile string        // YAML device list for the static backend
	CacheTTL    time.Duration // defaults to 30s, 0 disables caching
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type MariaDBConfig struct {
	DSN string // provisioning database, e.g. provisioning:secret@tcp(mariadb:3306)/provisioning
}

type MQTTConfig struct {
	BrokerURL string // e.g. tcp://mosquitto:1883; empty disables MQTT ingestion
	Topic     string // defaults to presence/+/+/detections
	ClientID  string
	Username  string
	Password  string
}

type KafkaConfig struct {
	Brokers    []string // empty disables the change log
	AuditTopic string   // defaults to presence.changes
}

type LogConfig struct {
	Level string // debug, info, warn, error (default info)
}

// PolicyConfig holds presence timing rules.
type PolicyConfig struct {
	DefaultTimeout  time.Duration             `yaml:"default_timeout"`
	SweepInterval   time.Duration             `yaml:"sweep_interval"`
	FutureTolerance time.Duration             `yaml:"future_tolerance"`
	Locations       map[string]LocationPolicy `yaml:"locations"`
	DeviceTypes     map[string]LocationPolicy `yaml:"device_types"`
}

// LocationPolicy overrides the timeout for one location or device type.
type LocationPolicy struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Timeout returns the presence timeout for a device type in a location. A device-type override
// wins over a location override, which wins over the default.
func (p PolicyConfig) Timeout(locationID, deviceType string) time.Duration {
	if dp, ok := p.DeviceTypes[deviceType]; ok && deviceType != "" && dp.Timeout > 0 {
		return dp.Timeout
	}
	if lp, ok := p.Locations[locationID]; ok && lp.Timeout > 0 {
		return lp.Timeout
	}
	return p.DefaultTimeout
}

// ParsePolicy decodes a policy document. Fields missing from data keep the embedded defaults.
func ParsePolicy(data []byte) (PolicyConfig, error) {
	var policy PolicyConfig
	if err := yaml.Unmarshal(policyYAML, &policy); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded policy.yaml: " + err.Error())
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return PolicyConfig{}, fmt.Errorf("parsing policy: %w", err)
	}
	if policy.DefaultTimeout <= 0 {
		return PolicyConfig{}, fmt.Errorf("default_timeout must be positive, got %s", policy.DefaultTimeout)
	}
	if policy.SweepInterval < 0 || policy.FutureTolerance < 0 {
		return PolicyConfig{}, fmt.Errorf("sweep_interval and future_tolerance must not be negative")
	}
	for id, lp := range policy.Locations {
		if lp.Timeout < 0 {
			return PolicyConfig{}, fmt.Errorf("location %s: timeout must not be negative", id)
		}
	}
	for name, dp := range policy.DeviceTypes {
		if dp.Timeout < 0 {
			return PolicyConfig{}, fmt.Errorf("device type %s: timeout must not be negative", name)
		}
	}
	return policy, nil
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration. Zero is allowed.
// Returns the default value if the env var is unset, empty, or invalid.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load builds the configuration from the environment. The presence policy comes from the
// embedded policy.yaml, or from PRESENCE_POLICY_FILE when set.
func Load() (*Config, error) {
	var policyData []byte
	if path := os.Getenv("PRESENCE_POLICY_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading policy file: %w", err)
		}
		policyData = data
	}
	policy, err := ParsePolicy(policyData)
	if err != nil {
		return nil, err
	}

	return &Config{
		Web: WebConfig{
			Port:           envInt("WEB_PORT", 8080),
			Host:           envString("WEB_HOST", "0.0.0.0"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Auth: AuthConfig{
			TokenSecret: os.Getenv("DEVICE_TOKEN_SECRET"),
			TokenIssuer: envString("DEVICE_TOKEN_ISSUER", "presence-hub"),
		},
		Registry: RegistryConfig{
			Backend:     envString("REGISTRY_BACKEND", "static"),
			DevicesFile: os.Getenv("DEVICES_FILE"),
			CacheTTL:    envDuration("REGISTRY_CACHE_TTL", constants.DefaultRegistryCacheTTL),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		MariaDB: MariaDBConfig{
			DSN: os.Getenv("MARIADB_DSN"),
		},
		MQTT: MQTTConfig{
			BrokerURL: os.Getenv("MQTT_BROKER_URL"),
			Topic:     envString("MQTT_TOPIC", constants.DefaultMQTTTopic),
			ClientID:  os.Getenv("MQTT_CLIENT_ID"),
			Username:  os.Getenv("MQTT_USERNAME"),
			Password:  os.Getenv("MQTT_PASSWORD"),
		},
		Kafka: KafkaConfig{
			Brokers:    envList("KAFKA_BROKERS"),
			AuditTopic: envString("KAFKA_AUDIT_TOPIC", "presence.changes"),
		},
		Log: LogConfig{
			Level: envString("LOG_LEVEL", "info"),
		},
		Policy: policy,
	}, nil
}
