// Package config provides configuration loading and management for the
// task graph scheduler.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete scheduler configuration.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	NATS      NATSConfig      `yaml:"nats"`
	Streams   StreamsConfig   `yaml:"streams"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// SchedulerConfig identifies this scheduler instance and bounds broker
// redelivery of the events it consumes.
type SchedulerConfig struct {
	// ID filters the broker subscriptions (<schedulerId>.>). Published
	// subjects do not carry it.
	ID string `yaml:"id"`

	// AckWait bounds how long the broker waits for a handler to ack a
	// delivered event before redelivering it.
	AckWait time.Duration `yaml:"ack_wait"`

	// MaxDeliver bounds how many times the broker will redeliver a
	// message whose handler keeps failing.
	MaxDeliver int `yaml:"max_deliver"`
}

// NATSConfig configures the broker/entity-store connection.
type NATSConfig struct {
	// URL is the NATS server URL. Empty with Embedded set starts the
	// embedded server; empty without it dials nats://localhost:4222.
	URL string `yaml:"url"`
	// Embedded indicates whether to boot an in-process NATS server
	// instead of dialing URL. Useful for local development and tests.
	Embedded bool `yaml:"embedded"`
}

// StreamsConfig names the JetStream streams and consumers the ingress,
// publisher, and execution-queue client bind to.
type StreamsConfig struct {
	CompletedStreamName   string `yaml:"completed_stream_name"`
	CompletedConsumerName string `yaml:"completed_consumer_name"`
	FailedStreamName      string `yaml:"failed_stream_name"`
	FailedConsumerName    string `yaml:"failed_consumer_name"`

	EventsStreamName string `yaml:"events_stream_name"`
	BlockedSubject   string `yaml:"blocked_subject"`
	FinishedSubject  string `yaml:"finished_subject"`

	ExecQueueStreamName string `yaml:"exec_queue_stream_name"`
	RerunSubject        string `yaml:"rerun_subject"`
	ScheduleSubject     string `yaml:"schedule_subject"`

	// ScopeAllowlist lists the glob patterns (matched with doublestar
	// against a task graph's declared scopes[]) for which this scheduler
	// instance publishes lifecycle events; state transitions are not
	// gated. An empty allowlist permits every scope.
	ScopeAllowlist []string `yaml:"scope_allowlist"`
}

// MetricsConfig configures the prometheus exposition endpoint.
type MetricsConfig struct {
	// Addr is the listen address for the /metrics HTTP endpoint, e.g.
	// ":9090". Empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// LogConfig configures the scheduler's structured logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			ID:         "scheduler",
			AckWait:    30 * time.Second,
			MaxDeliver: 3,
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Streams: StreamsConfig{
			CompletedStreamName:   "EXECQUEUE",
			CompletedConsumerName: "scheduler-completed",
			FailedStreamName:      "EXECQUEUE",
			FailedConsumerName:    "scheduler-failed",
			EventsStreamName:      "EVENTS",
			BlockedSubject:        "EVENTS.task-graph-blocked",
			FinishedSubject:       "EVENTS.task-graph-finished",
			ExecQueueStreamName:   "EXECQUEUE",
			RerunSubject:          "EXECQUEUE.rerun",
			ScheduleSubject:       "EXECQUEUE.schedule",
			ScopeAllowlist:        nil,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Scheduler.ID == "" {
		return fmt.Errorf("scheduler.id is required")
	}
	if c.Scheduler.AckWait <= 0 {
		return fmt.Errorf("scheduler.ack_wait must be positive")
	}
	if c.Scheduler.MaxDeliver <= 0 {
		return fmt.Errorf("scheduler.max_deliver must be positive")
	}
	if c.Streams.CompletedStreamName == "" || c.Streams.FailedStreamName == "" {
		return fmt.Errorf("streams.completed_stream_name and streams.failed_stream_name are required")
	}
	if c.Streams.BlockedSubject == "" || c.Streams.FinishedSubject == "" {
		return fmt.Errorf("streams.blocked_subject and streams.finished_subject are required")
	}
	if c.Streams.RerunSubject == "" || c.Streams.ScheduleSubject == "" {
		return fmt.Errorf("streams.rerun_subject and streams.schedule_subject are required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file, starting from
// DefaultConfig so fields absent from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one; other takes precedence for
// non-zero values.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Scheduler.ID != "" {
		c.Scheduler.ID = other.Scheduler.ID
	}
	if other.Scheduler.AckWait != 0 {
		c.Scheduler.AckWait = other.Scheduler.AckWait
	}
	if other.Scheduler.MaxDeliver != 0 {
		c.Scheduler.MaxDeliver = other.Scheduler.MaxDeliver
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	if other.Streams.CompletedStreamName != "" {
		c.Streams.CompletedStreamName = other.Streams.CompletedStreamName
	}
	if other.Streams.CompletedConsumerName != "" {
		c.Streams.CompletedConsumerName = other.Streams.CompletedConsumerName
	}
	if other.Streams.FailedStreamName != "" {
		c.Streams.FailedStreamName = other.Streams.FailedStreamName
	}
	if other.Streams.FailedConsumerName != "" {
		c.Streams.FailedConsumerName = other.Streams.FailedConsumerName
	}
	if other.Streams.EventsStreamName != "" {
		c.Streams.EventsStreamName = other.Streams.EventsStreamName
	}
	if other.Streams.BlockedSubject != "" {
		c.Streams.BlockedSubject = other.Streams.BlockedSubject
	}
	if other.Streams.FinishedSubject != "" {
		c.Streams.FinishedSubject = other.Streams.FinishedSubject
	}
	if other.Streams.ExecQueueStreamName != "" {
		c.Streams.ExecQueueStreamName = other.Streams.ExecQueueStreamName
	}
	if other.Streams.RerunSubject != "" {
		c.Streams.RerunSubject = other.Streams.RerunSubject
	}
	if other.Streams.ScheduleSubject != "" {
		c.Streams.ScheduleSubject = other.Streams.ScheduleSubject
	}
	if len(other.Streams.ScopeAllowlist) > 0 {
		c.Streams.ScopeAllowlist = other.Streams.ScopeAllowlist
	}

	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
