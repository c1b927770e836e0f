package taskscheduler

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// taskSchedulerSchema defines the configuration schema.
var taskSchedulerSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the task-scheduler component.
type Config struct {
	// SchedulerID filters the task-completed/task-failed subscriptions
	// to this scheduler's events.
	SchedulerID string `json:"scheduler_id" schema:"type:string,description:Scheduler identifier used to filter broker subscriptions,category:basic,default:scheduler"`

	// CompletedStreamName/ConsumerName name the task-completed exchange.
	CompletedStreamName   string `json:"completed_stream_name" schema:"type:string,description:JetStream stream carrying task-completed events,category:basic,default:EXECQUEUE"`
	CompletedConsumerName string `json:"completed_consumer_name" schema:"type:string,description:Durable consumer name for task-completed events,category:basic,default:scheduler-completed"`

	// FailedStreamName/ConsumerName name the task-failed exchange.
	FailedStreamName   string `json:"failed_stream_name" schema:"type:string,description:JetStream stream carrying task-failed events,category:basic,default:EXECQUEUE"`
	FailedConsumerName string `json:"failed_consumer_name" schema:"type:string,description:Durable consumer name for task-failed events,category:basic,default:scheduler-failed"`

	// AckWait/MaxDeliver bound redelivery of a message whose handler
	// keeps failing.
	AckWait    string `json:"ack_wait" schema:"type:string,description:How long the broker waits for an ack before redelivering,category:advanced,default:30s"`
	MaxDeliver int    `json:"max_deliver" schema:"type:int,description:Maximum redelivery attempts for a failing handler,category:advanced,default:3,min:1,max:20"`

	// BlockedSubjectPrefix/FinishedSubjectPrefix name the outbound
	// lifecycle-event subjects; the graph's routing value is appended.
	BlockedSubjectPrefix  string `json:"blocked_subject_prefix" schema:"type:string,description:Subject prefix for taskGraphBlocked events,category:basic,default:EVENTS.task-graph-blocked"`
	FinishedSubjectPrefix string `json:"finished_subject_prefix" schema:"type:string,description:Subject prefix for taskGraphFinished events,category:basic,default:EVENTS.task-graph-finished"`

	// RerunSubjectPrefix/ScheduleSubjectPrefix name the execution-queue
	// RPC subjects; the taskGraphId is appended.
	RerunSubjectPrefix    string `json:"rerun_subject_prefix" schema:"type:string,description:Subject prefix for rerun requests to the execution queue,category:basic,default:EXECQUEUE.rerun"`
	ScheduleSubjectPrefix string `json:"schedule_subject_prefix" schema:"type:string,description:Subject prefix for schedule requests to the execution queue,category:basic,default:EXECQUEUE.schedule"`

	// ScopeAllowlist restricts which task graphs this instance publishes
	// lifecycle events for; empty allows every scope.
	ScopeAllowlist []string `json:"scope_allowlist" schema:"type:array,description:Glob patterns this instance is permitted to publish lifecycle events for,category:advanced"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		SchedulerID:           "scheduler",
		CompletedStreamName:   "EXECQUEUE",
		CompletedConsumerName: "scheduler-completed",
		FailedStreamName:      "EXECQUEUE",
		FailedConsumerName:    "scheduler-failed",
		AckWait:               "30s",
		MaxDeliver:            3,
		BlockedSubjectPrefix:  "EVENTS.task-graph-blocked",
		FinishedSubjectPrefix: "EVENTS.task-graph-finished",
		RerunSubjectPrefix:    "EXECQUEUE.rerun",
		ScheduleSubjectPrefix: "EXECQUEUE.schedule",
	}
}

// GetAckWait parses AckWait, falling back to 30s on a blank or malformed
// value rather than failing Start.
func (c *Config) GetAckWait() time.Duration {
	if c.AckWait == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.AckWait)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.SchedulerID == "" {
		return fmt.Errorf("scheduler_id is required")
	}
	if c.CompletedStreamName == "" || c.FailedStreamName == "" {
		return fmt.Errorf("completed_stream_name and failed_stream_name are required")
	}
	if c.BlockedSubjectPrefix == "" || c.FinishedSubjectPrefix == "" {
		return fmt.Errorf("blocked_subject_prefix and finished_subject_prefix are required")
	}
	if c.RerunSubjectPrefix == "" || c.ScheduleSubjectPrefix == "" {
		return fmt.Errorf("rerun_subject_prefix and schedule_subject_prefix are required")
	}
	if c.MaxDeliver <= 0 {
		return fmt.Errorf("max_deliver must be positive")
	}
	return nil
}
