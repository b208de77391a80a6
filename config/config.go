package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. FIRECORE_DATABASE_DRIVER.
const EnvPrefix = "FIRECORE_"

type Config struct {
	mu sync.RWMutex `yaml:"-"`

	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Web       WebConfig       `yaml:"web" envPrefix:"WEB_"`
	Messaging MessagingConfig `yaml:"messaging" envPrefix:"MESSAGING_"`
	Dispatch  DispatchConfig  `yaml:"dispatch" envPrefix:"DISPATCH_"`
	Stats     StatsConfig     `yaml:"stats" envPrefix:"STATS_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver" env:"DRIVER"`
	SQLite   SQLiteConfig   `yaml:"sqlite" envPrefix:"SQLITE_"`
	Postgres PostgresConfig `yaml:"postgres" envPrefix:"POSTGRES_"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type PostgresConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	Database string `yaml:"database" env:"DATABASE"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	SSLMode  string `yaml:"sslmode" env:"SSLMODE"`
}

// DSN builds a pgx connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Database, p.User, p.Password, p.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Address  string `yaml:"address" env:"ADDRESS"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

type WebConfig struct {
	Host           string        `yaml:"host" env:"HOST"`
	Port           int           `yaml:"port" env:"PORT"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

type MessagingConfig struct {
	Backend             string        `yaml:"backend" env:"BACKEND"` // "kafka", "mqtt" or "none"
	Kafka               KafkaConfig   `yaml:"kafka" envPrefix:"KAFKA_"`
	MQTT                MQTTConfig    `yaml:"mqtt" envPrefix:"MQTT_"`
	IntakeTopic         string        `yaml:"intake_topic" env:"INTAKE_TOPIC"`
	RepliesTopic        string        `yaml:"replies_topic" env:"REPLIES_TOPIC"`
	TransitionsTopic    string        `yaml:"transitions_topic" env:"TRANSITIONS_TOPIC"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval" env:"OUTBOX_DRAIN_INTERVAL"`
	OutboxMaxRetries    int           `yaml:"outbox_max_retries" env:"OUTBOX_MAX_RETRIES"`
	NodeID              string        `yaml:"node_id" env:"NODE_ID"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"BROKERS"`
	GroupID string   `yaml:"group_id" env:"GROUP_ID"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"BROKER"`
	Port     int    `yaml:"port" env:"PORT"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
	QoS      byte   `yaml:"qos" env:"QOS"`
}

type DispatchConfig struct {
	UnitCap    int           `yaml:"unit_cap" env:"UNIT_CAP"`
	ETAOffset  time.Duration `yaml:"eta_offset" env:"ETA_OFFSET"`
	RetryLimit int           `yaml:"retry_limit" env:"RETRY_LIMIT"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	Workers    int           `yaml:"workers" env:"WORKERS"`
	QueueSize  int           `yaml:"queue_size" env:"QUEUE_SIZE"`
}

type StatsConfig struct {
	DedupeWindow int `yaml:"dedupe_window" env:"DEDUPE_WINDOW"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // "json" or "console"
}

func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "firecore.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "firecore",
				User:     "firecore",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Web: WebConfig{
			Host:           "0.0.0.0",
			Port:           8084,
			RequestTimeout: 30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Messaging: MessagingConfig{
			Backend: "kafka",
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "firecore",
			},
			MQTT: MQTTConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "firecore",
				QoS:      1,
			},
			IntakeTopic:         "firecore.intake",
			RepliesTopic:        "firecore.replies",
			TransitionsTopic:    "firecore.transitions",
			OutboxDrainInterval: 5 * time.Second,
			OutboxMaxRetries:    10,
			NodeID:              "core",
		},
		Dispatch: DispatchConfig{
			UnitCap:    3,
			ETAOffset:  15 * time.Minute,
			RetryLimit: 5,
			RetryDelay: 20 * time.Millisecond,
			Workers:    4,
			QueueSize:  256,
		},
		Stats: StatsConfig{
			DedupeWindow: 4096,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over Defaults and then applies FIRECORE_* environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	switch c.Messaging.Backend {
	case "kafka", "mqtt", "none", "":
	default:
		return fmt.Errorf("config: unsupported messaging backend %q", c.Messaging.Backend)
	}
	if c.Dispatch.UnitCap <= 0 {
		return fmt.Errorf("config: dispatch.unit_cap must be positive")
	}
	if c.Dispatch.ETAOffset < 0 {
		return fmt.Errorf("config: dispatch.eta_offset must not be negative")
	}
	if c.Dispatch.RetryLimit <= 0 {
		return fmt.Errorf("config: dispatch.retry_limit must be positive")
	}
	return nil
}

func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
