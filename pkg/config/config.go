package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the duskfall filter agent
type Config struct {
	// MQTT configuration
	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTPort     int    `yaml:"mqtt_port"`
	MQTTUser     string `yaml:"mqtt_user"`
	MQTTPassword string `yaml:"mqtt_password"`
	MQTTClientID string `yaml:"mqtt_client_id"`

	// Redis configuration
	RedisHost     string `yaml:"redis_host"`
	RedisPort     int    `yaml:"redis_port"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Postgres configuration (audit trail)
	EnableAudit             bool          `yaml:"enable_audit"`
	PostgresHost            string        `yaml:"postgres_host"`
	PostgresPort            int           `yaml:"postgres_port"`
	PostgresUser            string        `yaml:"postgres_user"`
	PostgresPassword        string        `yaml:"postgres_password"`
	PostgresDB              string        `yaml:"postgres_db"`
	PostgresSSLMode         string        `yaml:"postgres_ssl_mode"`
	PostgresMaxConnections  int           `yaml:"postgres_max_connections"`
	PostgresMaxIdleConns    int           `yaml:"postgres_max_idle_conns"`
	PostgresConnMaxLifetime time.Duration `yaml:"postgres_conn_max_lifetime"`

	// Service configuration
	ServiceName string `yaml:"service_name"`
	HealthPort  int    `yaml:"health_port"`
	LogLevel    string `yaml:"log_level"`

	// Filter agent configuration
	TickIntervalSec   int     `yaml:"tick_interval_sec"`
	HistoryMaxEntries int     `yaml:"history_max_entries"`
	TargetTTLMinutes  int     `yaml:"target_ttl_minutes"`
	SeedLatitude      float64 `yaml:"seed_latitude"`
	SeedLongitude     float64 `yaml:"seed_longitude"`
	HasSeedLocation   bool    `yaml:"has_seed_location"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		MQTTBroker:   "localhost",
		MQTTPort:     1883,
		MQTTUser:     "",
		MQTTPassword: "",
		MQTTClientID: "",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		EnableAudit:             false,
		PostgresHost:            "localhost",
		PostgresPort:            5432,
		PostgresUser:            "duskfall",
		PostgresPassword:        "",
		PostgresDB:              "duskfall",
		PostgresSSLMode:         "disable",
		PostgresMaxConnections:  5,
		PostgresMaxIdleConns:    2,
		PostgresConnMaxLifetime: 30 * time.Minute,

		ServiceName: "filter-agent",
		HealthPort:  8080,
		LogLevel:    "info",

		TickIntervalSec:   60,
		HistoryMaxEntries: 200,
		TargetTTLMinutes:  10,
	}
}

// LoadFromFile overlays configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables with DUSKFALL_ prefix
func (c *Config) LoadFromEnv() {
	// MQTT configuration
	if v := os.Getenv("DUSKFALL_MQTT_BROKER"); v != "" {
		c.MQTTBroker = v
	}
	if v := os.Getenv("DUSKFALL_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTTPort = port
		}
	}
	if v := os.Getenv("DUSKFALL_MQTT_USER"); v != "" {
		c.MQTTUser = v
	}
	if v := os.Getenv("DUSKFALL_MQTT_PASSWORD"); v != "" {
		c.MQTTPassword = v
	}
	if v := os.Getenv("DUSKFALL_MQTT_CLIENT_ID"); v != "" {
		c.MQTTClientID = v
	}

	// Redis configuration
	if v := os.Getenv("DUSKFALL_REDIS_HOST"); v != "" {
		c.RedisHost = v
	}
	if v := os.Getenv("DUSKFALL_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.RedisPort = port
		}
	}
	if v := os.Getenv("DUSKFALL_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("DUSKFALL_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.RedisDB = db
		}
	}

	// Postgres configuration
	if v := os.Getenv("DUSKFALL_ENABLE_AUDIT"); v != "" {
		if enable, err := strconv.ParseBool(v); err == nil {
			c.EnableAudit = enable
		}
	}
	if v := os.Getenv("DUSKFALL_POSTGRES_HOST"); v != "" {
		c.PostgresHost = v
	}
	if v := os.Getenv("DUSKFALL_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.PostgresPort = port
		}
	}
	if v := os.Getenv("DUSKFALL_POSTGRES_USER"); v != "" {
		c.PostgresUser = v
	}
	if v := os.Getenv("DUSKFALL_POSTGRES_PASSWORD"); v != "" {
		c.PostgresPassword = v
	}
	if v := os.Getenv("DUSKFALL_POSTGRES_DB"); v != "" {
		c.PostgresDB = v
	}
	if v := os.Getenv("DUSKFALL_POSTGRES_SSL_MODE"); v != "" {
		c.PostgresSSLMode = v
	}

	// Service configuration
	if v := os.Getenv("DUSKFALL_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("DUSKFALL_HEALTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HealthPort = port
		}
	}
	if v := os.Getenv("DUSKFALL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	// Filter agent configuration
	if v := os.Getenv("DUSKFALL_TICK_INTERVAL_SEC"); v != "" {
		if interval, err := strconv.Atoi(v); err == nil {
			c.TickIntervalSec = interval
		}
	}
	if v := os.Getenv("DUSKFALL_HISTORY_MAX_ENTRIES"); v != "" {
		if entries, err := strconv.Atoi(v); err == nil {
			c.HistoryMaxEntries = entries
		}
	}
	if v := os.Getenv("DUSKFALL_TARGET_TTL_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil {
			c.TargetTTLMinutes = minutes
		}
	}
	if v := os.Getenv("DUSKFALL_SEED_LATITUDE"); v != "" {
		if lat, err := strconv.ParseFloat(v, 64); err == nil {
			c.SeedLatitude = lat
			c.HasSeedLocation = true
		}
	}
	if v := os.Getenv("DUSKFALL_SEED_LONGITUDE"); v != "" {
		if lon, err := strconv.ParseFloat(v, 64); err == nil {
			c.SeedLongitude = lon
		}
	}
}

// LoadFromFlags parses command-line flags and overrides config values
func (c *Config) LoadFromFlags() {
	// MQTT flags
	pflag.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker hostname")
	pflag.IntVar(&c.MQTTPort, "mqtt-port", c.MQTTPort, "MQTT broker port")
	pflag.StringVar(&c.MQTTUser, "mqtt-user", c.MQTTUser, "MQTT username")
	pflag.StringVar(&c.MQTTPassword, "mqtt-password", c.MQTTPassword, "MQTT password")
	pflag.StringVar(&c.MQTTClientID, "mqtt-client-id", c.MQTTClientID, "MQTT client ID")

	// Redis flags
	pflag.StringVar(&c.RedisHost, "redis-host", c.RedisHost, "Redis hostname")
	pflag.IntVar(&c.RedisPort, "redis-port", c.RedisPort, "Redis port")
	pflag.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	pflag.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")

	// Postgres flags
	pflag.BoolVar(&c.EnableAudit, "enable-audit", c.EnableAudit, "Enable Postgres audit trail")
	pflag.StringVar(&c.PostgresHost, "postgres-host", c.PostgresHost, "Postgres hostname")
	pflag.IntVar(&c.PostgresPort, "postgres-port", c.PostgresPort, "Postgres port")
	pflag.StringVar(&c.PostgresUser, "postgres-user", c.PostgresUser, "Postgres username")
	pflag.StringVar(&c.PostgresPassword, "postgres-password", c.PostgresPassword, "Postgres password")
	pflag.StringVar(&c.PostgresDB, "postgres-db", c.PostgresDB, "Postgres database name")
	pflag.StringVar(&c.PostgresSSLMode, "postgres-ssl-mode", c.PostgresSSLMode, "Postgres SSL mode")

	// Service flags
	pflag.StringVar(&c.ServiceName, "service-name", c.ServiceName, "Service name")
	pflag.IntVar(&c.HealthPort, "health-port", c.HealthPort, "Health check HTTP port")
	pflag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")

	// Filter agent flags
	pflag.IntVar(&c.TickIntervalSec, "tick-interval", c.TickIntervalSec, "Reconciliation tick interval in seconds")
	pflag.IntVar(&c.HistoryMaxEntries, "history-max-entries", c.HistoryMaxEntries, "Maximum reconciliation history entries kept in Redis")
	pflag.IntVar(&c.TargetTTLMinutes, "target-ttl-minutes", c.TargetTTLMinutes, "Minutes before an idle rendering target is pruned")
	pflag.Float64Var(&c.SeedLatitude, "seed-latitude", c.SeedLatitude, "Latitude used to seed settings on first install")
	pflag.Float64Var(&c.SeedLongitude, "seed-longitude", c.SeedLongitude, "Longitude used to seed settings on first install")
	pflag.BoolVar(&c.HasSeedLocation, "has-seed-location", c.HasSeedLocation, "Whether seed coordinates should be applied")

	pflag.Parse()
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT broker is required")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("MQTT port must be between 1 and 65535")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("Redis host is required")
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		return fmt.Errorf("Redis port must be between 1 and 65535")
	}
	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("Health port must be between 1 and 65535")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("Service name is required")
	}
	if c.TickIntervalSec <= 0 {
		return fmt.Errorf("Tick interval must be positive")
	}
	if c.HistoryMaxEntries < 0 {
		return fmt.Errorf("History max entries must not be negative")
	}
	if c.EnableAudit {
		if c.PostgresHost == "" {
			return fmt.Errorf("Postgres host is required when audit is enabled")
		}
		if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
			return fmt.Errorf("Postgres port must be between 1 and 65535")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("Postgres database is required when audit is enabled")
		}
	}
	if c.HasSeedLocation {
		if c.SeedLatitude < -90 || c.SeedLatitude > 90 {
			return fmt.Errorf("seed latitude must be between -90 and 90")
		}
		if c.SeedLongitude < -180 || c.SeedLongitude > 180 {
			return fmt.Errorf("seed longitude must be between -180 and 180")
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// MQTTAddress returns the full MQTT broker address
func (c *Config) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

// RedisAddress returns the full Redis address
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresConnectionString returns the Postgres connection string
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode)
}
