package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/aiwater/internal/dynamo"
)

const (
	DefaultPath         = "aiwater.yaml"
	DefaultTickInterval = 100 * time.Millisecond
	DefaultAddr         = ":8080"
	DefaultStorePath    = ".aiwater"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultObserverURL  = "http://localhost:8080"
)

type Config struct {
	Electrolysis dynamo.Params  `yaml:"electrolysis"`
	Engine       EngineConfig   `yaml:"engine"`
	Server       ServerConfig   `yaml:"server"`
	Store        StoreConfig    `yaml:"store"`
	Kafka        KafkaConfig    `yaml:"kafka"`
	Observer     ObserverConfig `yaml:"observer"`
	Logging      LoggingConfig  `yaml:"logging"`
}

type EngineConfig struct {
	TickInterval time.Duration `yaml:"tick_interval" env:"AIWATER_TICK_INTERVAL"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"AIWATER_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	Path string `yaml:"path" env:"AIWATER_STORE_PATH"`
}

type KafkaConfig struct {
	Enabled    bool     `yaml:"enabled" env:"AIWATER_KAFKA_ENABLED"`
	Brokers    []string `yaml:"brokers" env:"AIWATER_KAFKA_BROKERS" envSeparator:","`
	CostTopic  string   `yaml:"cost_topic" env:"AIWATER_KAFKA_COST_TOPIC"`
	EventTopic string   `yaml:"event_topic" env:"AIWATER_KAFKA_EVENT_TOPIC"`
	GroupID    string   `yaml:"group_id" env:"AIWATER_KAFKA_GROUP_ID"`
}

type ObserverConfig struct {
	URL          string        `yaml:"url" env:"AIWATER_OBSERVER_URL"`
	PollInterval time.Duration `yaml:"poll_interval" env:"AIWATER_POLL_INTERVAL"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"AIWATER_LOG_LEVEL"`
}

func DefaultConfig() *Config {
	return &Config{
		Electrolysis: dynamo.DefaultParams(),
		Engine:       EngineConfig{TickInterval: DefaultTickInterval},
		Server: ServerConfig{
			Addr:            DefaultAddr,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Store: StoreConfig{Path: DefaultStorePath},
		Kafka: KafkaConfig{
			Brokers:    []string{"localhost:9092"},
			CostTopic:  "aiwater.cost",
			EventTopic: "aiwater.events",
			GroupID:    "aiwater",
		},
		Observer: ObserverConfig{URL: DefaultObserverURL, PollInterval: DefaultPollInterval},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults. Fields absent from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// Write encodes cfg as YAML.
func Write(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides cfg from AIWATER_* environment variables. Unset
// variables leave the current value alone.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Electrolysis.Validate(); err != nil {
		return err
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("%w: engine.tick_interval must be positive", dynamo.ErrInvalidConfiguration)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is empty", dynamo.ErrInvalidConfiguration)
	}
	if c.Observer.PollInterval <= 0 {
		return fmt.Errorf("%w: observer.poll_interval must be positive", dynamo.ErrInvalidConfiguration)
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: kafka.brokers is empty", dynamo.ErrInvalidConfiguration)
		}
		if c.Kafka.CostTopic == "" && c.Kafka.EventTopic == "" {
			return fmt.Errorf("%w: kafka needs a cost or event topic", dynamo.ErrInvalidConfiguration)
		}
	}
	return nil
}
