// Package config loads and validates the actiond process configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultQueueName is the queue every deployment has; executors without a
// queue of their own use it.
const DefaultQueueName = "default"

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	LogLevel  string `yaml:"log_level"  validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`
	Port      int    `yaml:"port"       validate:"min=1,max=65535"`

	// DatabaseURL selects the node store: memory://, sqlite://<path> or postgres://...
	DatabaseURL string `yaml:"database_url" validate:"required"`
	PluginsPath string `yaml:"plugins_path"`

	// RunningOn identifies this node in execution details. Empty means "<ip> : <hostname>".
	RunningOn string `yaml:"running_on"`
	// RunAsUser is the user scheduled and API-queued actions run as.
	RunAsUser string `yaml:"run_as_user"`

	TracingEnabled bool `yaml:"tracing_enabled"`

	Cache     CacheConfig            `yaml:"cache"`
	EventBus  EventBusConfig         `yaml:"event_bus"`
	Queues    map[string]QueueConfig `yaml:"queues"    validate:"required,dive"`
	Schedules []ScheduleConfig       `yaml:"schedules" validate:"dive"`
}

type CacheConfig struct {
	Backend       string        `yaml:"backend"        validate:"oneof=memory redis"`
	RedisAddr     string        `yaml:"redis_addr"     validate:"required_if=Backend redis"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"       validate:"min=0"`
	Prefix        string        `yaml:"prefix"`
	TTL           time.Duration `yaml:"ttl"            validate:"min=0"`
}

type EventBusConfig struct {
	Provider      string   `yaml:"provider"       validate:"oneof=none gochannel kafka"`
	Brokers       []string `yaml:"brokers"        validate:"required_if=Provider kafka"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

type QueueConfig struct {
	Workers int `yaml:"workers" validate:"min=1"`
	Backlog int `yaml:"backlog" validate:"min=0"`
}

// ScheduleConfig runs the action stored at ActionNode on a cron schedule.
type ScheduleConfig struct {
	Name       string `yaml:"name"        validate:"required"`
	Cron       string `yaml:"cron"        validate:"required"`
	ActionNode string `yaml:"action_node" validate:"required"`
	Target     string `yaml:"target"`
}

func Default() Config {
	return Config{
		LogLevel:    "info",
		LogFormat:   "text",
		Port:        9091,
		DatabaseURL: "memory://",
		Cache: CacheConfig{
			Backend: "memory",
			Prefix:  "actiond:executions:",
		},
		EventBus: EventBusConfig{
			Provider:      "gochannel",
			ConsumerGroup: "cg-actiond",
		},
		Queues: map[string]QueueConfig{
			DefaultQueueName: {Workers: 4, Backlog: 256},
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the struct rules and that the default queue exists.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if _, ok := c.Queues[DefaultQueueName]; !ok {
		return fmt.Errorf("%w: queue '%s' must be configured", ErrInvalidConfig, DefaultQueueName)
	}

	return nil
}
