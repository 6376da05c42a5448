package cfg

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
)

// Transport types understood by the driver registry
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
	TransportKafka  = "kafka"
)

// RealtimeConfiguration controls subscription manager tuning
type RealtimeConfiguration struct {
	BaseDelayMS       int      `toml:"base_delay_ms"`       // First reconnect delay, doubled per attempt
	MaxAttempts       int      `toml:"max_attempts"`        // Reconnect attempts before a channel is abandoned
	DebounceMS        int      `toml:"debounce_ms"`         // Idle time before an empty channel is closed
	RateLimitMS       int      `toml:"rate_limit_ms"`       // Minimum gap between channel operations per key
	CircuitThreshold  int      `toml:"circuit_threshold"`   // Failures that open the circuit breaker
	CircuitCooldownMS int      `toml:"circuit_cooldown_ms"` // Time after the last failure before the circuit closes
	AllowedTables     []string `toml:"allowed_tables"`      // Glob patterns, empty allows every table
}

// NATSConfiguration for the NATS transport
type NATSConfiguration struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
	Compress      bool   `toml:"compress"` // Payloads are zstd compressed msgpack
}

// KafkaConfiguration for the Kafka transport
type KafkaConfiguration struct {
	Brokers     []string `toml:"brokers"`
	TopicPrefix string   `toml:"topic_prefix"`
	GroupPrefix string   `toml:"group_prefix"`
	Compress    bool     `toml:"compress"`
}

// TransportConfiguration selects and configures the realtime transport
type TransportConfiguration struct {
	Type  string             `toml:"type"`
	NATS  NATSConfiguration  `toml:"nats"`
	Kafka KafkaConfiguration `toml:"kafka"`
}

// AdminConfiguration for the debug HTTP server
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Empty disables admin authentication
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	ClientID string `toml:"client_id"`

	Realtime   RealtimeConfiguration   `toml:"realtime"`
	Transport  TransportConfiguration  `toml:"transport"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	TransportFlag  = flag.String("transport", "", "Transport type: memory, nats, kafka (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
	WatchFlag      = flag.String("watch", "", "Comma separated tables to watch, e.g. tasks,projects:status=open")
)

// Default configuration
var Config = DefaultConfiguration()

// DefaultConfiguration returns a fresh copy of the defaults
func DefaultConfiguration() *Configuration {
	return &Configuration{
		Realtime: RealtimeConfiguration{
			BaseDelayMS:       1000,
			MaxAttempts:       5,
			DebounceMS:        1000,
			RateLimitMS:       200,
			CircuitThreshold:  3,
			CircuitCooldownMS: 30000,
			AllowedTables:     []string{},
		},

		Transport: TransportConfiguration{
			Type: TransportMemory,
			NATS: NATSConfiguration{
				URL:           "nats://127.0.0.1:4222",
				SubjectPrefix: "sitesync.changes",
			},
			Kafka: KafkaConfiguration{
				Brokers:     []string{"127.0.0.1:9092"},
				TopicPrefix: "sitesync.changes",
				GroupPrefix: "sitesync",
			},
		},

		Admin: AdminConfiguration{
			Enabled:     true,
			BindAddress: "127.0.0.1",
			Port:        8090,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *TransportFlag != "" {
		Config.Transport.Type = *TransportFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if secret := os.Getenv("SITESYNC_ADMIN_SECRET"); secret != "" {
		Config.Admin.Secret = secret
	}

	if Config.ClientID == "" {
		id, err := generateClientID()
		if err != nil {
			return fmt.Errorf("failed to generate client ID: %w", err)
		}
		Config.ClientID = id
		log.Info().Str("client_id", id).Msg("Auto-generated client ID")
	}

	return nil
}

// IsAdminAuthEnabled returns true if admin endpoints require a secret
func IsAdminAuthEnabled() bool {
	return Config.Admin.Secret != ""
}

// GetAdminSecret returns the admin secret, preferring SITESYNC_ADMIN_SECRET
func GetAdminSecret() string {
	if secret := os.Getenv("SITESYNC_ADMIN_SECRET"); secret != "" {
		return secret
	}
	return Config.Admin.Secret
}

// generateClientID derives a stable per-machine identity
func generateClientID() (string, error) {
	id, err := machineid.ProtectedID("sitesync")
	if err != nil {
		return "", err
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return "sitesync-" + id, nil
}

// Validate checks configuration for errors
func Validate() error {
	rt := Config.Realtime

	if rt.BaseDelayMS < 1 {
		return fmt.Errorf("realtime base delay must be >= 1ms")
	}
	if rt.MaxAttempts < 1 {
		return fmt.Errorf("realtime max attempts must be >= 1")
	}
	if rt.DebounceMS < 1 {
		return fmt.Errorf("realtime debounce must be >= 1ms")
	}
	if rt.RateLimitMS < 0 {
		return fmt.Errorf("realtime rate limit must be >= 0")
	}
	if rt.CircuitThreshold < 1 {
		return fmt.Errorf("circuit breaker threshold must be >= 1")
	}
	if rt.CircuitCooldownMS < 1 {
		return fmt.Errorf("circuit breaker cooldown must be >= 1ms")
	}
	for _, pattern := range rt.AllowedTables {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("invalid allowed table pattern %q: %w", pattern, err)
		}
	}

	switch Config.Transport.Type {
	case TransportMemory:
	case TransportNATS:
		if Config.Transport.NATS.URL == "" {
			return fmt.Errorf("nats transport requires nats.url")
		}
		if strings.TrimSpace(Config.Transport.NATS.SubjectPrefix) == "" {
			return fmt.Errorf("nats transport requires nats.subject_prefix")
		}
	case TransportKafka:
		if len(Config.Transport.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka transport requires at least one broker")
		}
	default:
		return fmt.Errorf("unknown transport type: %s", Config.Transport.Type)
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	return nil
}
