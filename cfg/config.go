package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// MongoDBConfiguration controls the connection to the replica set whose
// oplog is tailed.
type MongoDBConfiguration struct {
	URI              string `toml:"uri"`
	ConnectTimeoutMS int    `toml:"connect_timeout_ms"`
	MaxAwaitTimeMS   int    `toml:"max_await_time_ms"` // Server-side await window per pull (0 = server default)
}

// StreamConfiguration controls the tailing stream's per-pull error retry
// policy.
type StreamConfiguration struct {
	RetryInitialMS  int     `toml:"retry_initial_ms"`
	RetryMaxMS      int     `toml:"retry_max_ms"`
	RetryMultiplier float64 `toml:"retry_multiplier"`
	MaxRetries      int     `toml:"max_retries"` // Consecutive pull failures before giving up (0 = default)
}

// SinkConfiguration describes one publish destination
type SinkConfiguration struct {
	Name              string   `toml:"name"`
	Type              string   `toml:"type"`   // "nats" or "kafka"
	Format            string   `toml:"format"` // "json" or "msgpack"
	NatsURL           string   `toml:"nats_url"`
	Brokers           []string `toml:"brokers"`
	BatchSize         int      `toml:"batch_size"`
	QueueSize         int      `toml:"queue_size"`
	TopicPrefix       string   `toml:"topic_prefix"`
	FilterDatabases   []string `toml:"filter_databases"`
	FilterCollections []string `toml:"filter_collections"`
	RetryInitialMS    int      `toml:"retry_initial_ms"`
	RetryMaxMS        int      `toml:"retry_max_ms"`
	RetryMultiplier   float64  `toml:"retry_multiplier"`
	MaxRetries        int      `toml:"max_retries"`
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

// AdminConfiguration for the admin/metrics HTTP server
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`

	MongoDB    MongoDBConfiguration    `toml:"mongodb"`
	Stream     StreamConfiguration     `toml:"stream"`
	Sinks      []SinkConfiguration     `toml:"sinks"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	MongoURIFlag   = flag.String("mongodb-uri", "", "MongoDB connection URI (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	InstanceID: 0, // Auto-generate

	MongoDB: MongoDBConfiguration{
		URI:              "mongodb://localhost:27017/?directConnection=true",
		ConnectTimeoutMS: 10000,
		MaxAwaitTimeMS:   1000,
	},

	Stream: StreamConfiguration{
		RetryInitialMS:  100,
		RetryMaxMS:      30000,
		RetryMultiplier: 2.0,
		MaxRetries:      100,
	},

	Sinks: []SinkConfiguration{},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        8090,
	},
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

	// Apply CLI overrides
	if *MongoURIFlag != "" {
		Config.MongoDB.URI = *MongoURIFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// Auto-generate instance ID if not set
	if Config.InstanceID == 0 {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		log.Info().Uint64("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	return nil
}

// generateInstanceID creates a unique instance ID based on machine ID
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("oplogtail")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.MongoDB.URI == "" {
		return fmt.Errorf("mongodb uri is required")
	}

	if Config.MongoDB.ConnectTimeoutMS < 0 {
		return fmt.Errorf("mongodb connect timeout must be >= 0")
	}

	if Config.MongoDB.MaxAwaitTimeMS < 0 {
		return fmt.Errorf("mongodb max await time must be >= 0")
	}

	if Config.Stream.RetryInitialMS < 0 {
		return fmt.Errorf("stream retry initial must be >= 0")
	}

	if Config.Stream.RetryMaxMS < 0 {
		return fmt.Errorf("stream retry max must be >= 0")
	}

	if Config.Stream.RetryMultiplier < 0 {
		return fmt.Errorf("stream retry multiplier must be >= 0")
	}

	if Config.Stream.MaxRetries < 0 {
		return fmt.Errorf("stream max retries must be >= 0")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	validSinkTypes := map[string]bool{"nats": true, "kafka": true}
	validFormats := map[string]bool{"": true, "json": true, "msgpack": true}

	seen := map[string]bool{}
	for _, sink := range Config.Sinks {
		if sink.Name == "" {
			return fmt.Errorf("sink name is required")
		}
		if seen[sink.Name] {
			return fmt.Errorf("duplicate sink name: %s", sink.Name)
		}
		seen[sink.Name] = true

		if !validSinkTypes[sink.Type] {
			return fmt.Errorf("invalid sink type for %q: %s", sink.Name, sink.Type)
		}
		if !validFormats[sink.Format] {
			return fmt.Errorf("invalid sink format for %q: %s", sink.Name, sink.Format)
		}
		if sink.Type == "nats" && sink.NatsURL == "" {
			return fmt.Errorf("sink %q requires nats_url", sink.Name)
		}
		if sink.Type == "kafka" && len(sink.Brokers) == 0 {
			return fmt.Errorf("sink %q requires at least one broker", sink.Name)
		}
	}

	return nil
}
