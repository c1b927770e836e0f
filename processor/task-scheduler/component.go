// Package taskscheduler wires the entity store, broker ingress,
// dispatcher, progression engine, and broker publisher into a single
// semstreams component: the reactive core of the task-graph scheduler.
package taskscheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/petemoore/task-graph-scheduler/broker"
	"github.com/petemoore/task-graph-scheduler/dispatcher"
	"github.com/petemoore/task-graph-scheduler/entity"
	"github.com/petemoore/task-graph-scheduler/metrics"
	"github.com/petemoore/task-graph-scheduler/progression"
	"github.com/petemoore/task-graph-scheduler/queue"
	"github.com/petemoore/task-graph-scheduler/task"
)

// Component implements the task-scheduler processor: it owns one
// broker.Ingress, one dispatcher.Dispatcher, one progression.Engine, and
// one broker.Publisher, and wires them together in Start.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	m          *metrics.Metrics
	registry   *prometheus.Registry

	ingress *broker.Ingress

	mu        sync.RWMutex
	running   bool
	startTime time.Time
}

// NewComponent creates a new task-scheduler processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	defaults := DefaultConfig()
	if config.CompletedStreamName == "" {
		config.CompletedStreamName = defaults.CompletedStreamName
	}
	if config.CompletedConsumerName == "" {
		config.CompletedConsumerName = defaults.CompletedConsumerName
	}
	if config.FailedStreamName == "" {
		config.FailedStreamName = defaults.FailedStreamName
	}
	if config.FailedConsumerName == "" {
		config.FailedConsumerName = defaults.FailedConsumerName
	}
	if config.AckWait == "" {
		config.AckWait = defaults.AckWait
	}
	if config.MaxDeliver == 0 {
		config.MaxDeliver = defaults.MaxDeliver
	}
	if config.BlockedSubjectPrefix == "" {
		config.BlockedSubjectPrefix = defaults.BlockedSubjectPrefix
	}
	if config.FinishedSubjectPrefix == "" {
		config.FinishedSubjectPrefix = defaults.FinishedSubjectPrefix
	}
	if config.RerunSubjectPrefix == "" {
		config.RerunSubjectPrefix = defaults.RerunSubjectPrefix
	}
	if config.ScheduleSubjectPrefix == "" {
		config.ScheduleSubjectPrefix = defaults.ScheduleSubjectPrefix
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.GetLogger()
	if logger == nil {
		logger = slog.Default()
	}

	m, reg := metrics.NewRegistry()

	return &Component{
		name:       "task-scheduler",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     logger,
		m:          m,
		registry:   reg,
	}, nil
}

// Registry returns the private prometheus registry this component's
// counters are registered against, for callers that want to expose it
// over HTTP (e.g. cmd/scheduler).
func (c *Component) Registry() *prometheus.Registry {
	return c.registry
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("initialized task-scheduler",
		"scheduler_id", c.config.SchedulerID,
		"completed_stream", c.config.CompletedStreamName,
		"failed_stream", c.config.FailedStreamName)
	return nil
}

// Start creates the entity-store buckets, binds the broker ingress, and
// begins consuming task-completed/task-failed events.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	taskBucket, err := entity.GetOrCreateBucket(ctx, js, entity.BucketTasks)
	if err != nil {
		return fmt.Errorf("ensure task bucket: %w", err)
	}
	graphBucket, err := entity.GetOrCreateBucket(ctx, js, entity.BucketTaskGraphs)
	if err != nil {
		return fmt.Errorf("ensure task graph bucket: %w", err)
	}

	tasks := entity.NewStore[task.Task](taskBucket)
	graphs := entity.NewStore[task.TaskGraph](graphBucket)
	tasks.OnRetry = c.m.CASRetries.Inc
	graphs.OnRetry = c.m.CASRetries.Inc

	q := queue.NewClient(js, queue.Config{
		RerunSubjectPrefix:    c.config.RerunSubjectPrefix,
		ScheduleSubjectPrefix: c.config.ScheduleSubjectPrefix,
	})
	publisher := broker.NewPublisher(js, broker.PublisherConfig{
		BlockedSubjectPrefix:  c.config.BlockedSubjectPrefix,
		FinishedSubjectPrefix: c.config.FinishedSubjectPrefix,
		Source:                c.name,
	})

	engine := progression.NewWithScopeGate(tasks, graphs, q, publisher, c.logger, c.m, broker.NewScopeGate(c.config.ScopeAllowlist))
	d := dispatcher.NewWithLogger(engine, c.logger)

	ingress := broker.NewIngress(js, broker.IngressConfig{
		SchedulerID:           c.config.SchedulerID,
		CompletedStreamName:   c.config.CompletedStreamName,
		CompletedConsumerName: c.config.CompletedConsumerName,
		FailedStreamName:      c.config.FailedStreamName,
		FailedConsumerName:    c.config.FailedConsumerName,
		AckWait:               c.config.GetAckWait(),
		MaxDeliver:            c.config.MaxDeliver,
	}, c.logger, d.HandleCompleted, d.HandleFailed)

	if err := ingress.Start(ctx); err != nil {
		return fmt.Errorf("start ingress: %w", err)
	}

	c.mu.Lock()
	c.ingress = ingress
	c.running = true
	c.startTime = time.Now()
	c.mu.Unlock()

	c.logger.Info("task-scheduler started",
		"scheduler_id", c.config.SchedulerID,
		"completed_stream", c.config.CompletedStreamName,
		"failed_stream", c.config.FailedStreamName)

	return nil
}

// Stop cancels the ingress consume loops and drains in-flight handlers
// before returning, so no message is acked mid-transition.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.ingress != nil {
		c.ingress.Stop()
	}

	c.running = false
	c.logger.Info("task-scheduler stopped", "scheduler_id", c.config.SchedulerID)
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "task-scheduler",
		Type:        "processor",
		Description: "Reacts to task-completed/task-failed events to progress task graphs through running/blocked/finished",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}
	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config:      component.NATSPort{Subject: portDef.Subject},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}
	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config:      component.NATSPort{Subject: portDef.Subject},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return taskSchedulerSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := "stopped"
	if c.running {
		status = "running"
	}
	return component.HealthStatus{
		Healthy:   c.running,
		LastCheck: time.Now(),
		Uptime:    time.Since(c.startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics. The scheduler tracks its
// own activity via prometheus counters (see metrics.Metrics) rather than
// the generic component flow-metrics surface.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}

// IsRunning returns whether the component is running.
func (c *Component) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
