package taskscheduler

import (
	"encoding/json"
	"testing"

	"github.com/c360studio/semstreams/component"
)

func TestNewComponent(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfgBytes, _ := json.Marshal(cfg)

		deps := component.Dependencies{
			// NATSClient would be nil, but NewComponent doesn't require it immediately
		}

		comp, err := NewComponent(cfgBytes, deps)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if comp == nil {
			t.Fatal("expected component to be created")
		}

		discoverable, ok := comp.(component.Discoverable)
		if !ok {
			t.Fatal("expected component to implement Discoverable")
		}

		meta := discoverable.Meta()
		if meta.Name != "task-scheduler" {
			t.Errorf("expected Name 'task-scheduler', got %s", meta.Name)
		}
		if meta.Type != "processor" {
			t.Errorf("expected Type 'processor', got %s", meta.Type)
		}
		if meta.Version != "0.1.0" {
			t.Errorf("expected Version '0.1.0', got %s", meta.Version)
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		cfgBytes := []byte(`{}`)

		deps := component.Dependencies{}

		comp, err := NewComponent(cfgBytes, deps)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		c := comp.(*Component)
		if c.config.CompletedStreamName != "EXECQUEUE" {
			t.Errorf("expected default CompletedStreamName, got %s", c.config.CompletedStreamName)
		}
		if c.config.MaxDeliver != 3 {
			t.Errorf("expected default MaxDeliver, got %d", c.config.MaxDeliver)
		}
		if c.config.GetAckWait().String() != "30s" {
			t.Errorf("expected default AckWait of 30s, got %s", c.config.GetAckWait())
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		cfgBytes := []byte(`{invalid`)

		deps := component.Dependencies{}

		_, err := NewComponent(cfgBytes, deps)
		if err == nil {
			t.Error("expected error for invalid JSON")
		}
	})

	t.Run("invalid config values", func(t *testing.T) {
		cfg := map[string]any{
			"scheduler_id":              "",
			"completed_stream_name":     "EXECQUEUE",
			"completed_consumer_name":   "scheduler-completed",
			"failed_stream_name":        "EXECQUEUE",
			"failed_consumer_name":      "scheduler-failed",
			"blocked_subject_prefix":    "EVENTS.task-graph-blocked",
			"finished_subject_prefix":   "EVENTS.task-graph-finished",
			"rerun_subject_prefix":      "EXECQUEUE.rerun",
			"schedule_subject_prefix":   "EXECQUEUE.schedule",
			"max_deliver":               3,
		}
		cfgBytes, _ := json.Marshal(cfg)

		deps := component.Dependencies{}

		_, err := NewComponent(cfgBytes, deps)
		if err == nil {
			t.Error("expected error for empty scheduler_id")
		}
	})
}

func TestComponent_Meta(t *testing.T) {
	cfg := DefaultConfig()
	cfgBytes, _ := json.Marshal(cfg)
	deps := component.Dependencies{}

	comp, err := NewComponent(cfgBytes, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := comp.(*Component)
	meta := c.Meta()

	if meta.Name != "task-scheduler" {
		t.Errorf("expected Name 'task-scheduler', got %s", meta.Name)
	}
	if meta.Type != "processor" {
		t.Errorf("expected Type 'processor', got %s", meta.Type)
	}
	if meta.Description == "" {
		t.Error("expected Description to be set")
	}
	if meta.Version != "0.1.0" {
		t.Errorf("expected Version '0.1.0', got %s", meta.Version)
	}
}

func TestComponent_ConfigSchema(t *testing.T) {
	cfg := DefaultConfig()
	cfgBytes, _ := json.Marshal(cfg)
	deps := component.Dependencies{}

	comp, err := NewComponent(cfgBytes, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := comp.(*Component)
	schema := c.ConfigSchema()

	if schema.Properties == nil {
		t.Error("expected ConfigSchema to have Properties")
	}
}

func TestComponent_Ports(t *testing.T) {
	cfg := DefaultConfig()
	cfgBytes, _ := json.Marshal(cfg)
	deps := component.Dependencies{}

	comp, err := NewComponent(cfgBytes, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := comp.(*Component)

	// No ports configured by default; both should report empty, not nil.
	if got := c.InputPorts(); len(got) != 0 {
		t.Errorf("expected no input ports by default, got %d", len(got))
	}
	if got := c.OutputPorts(); len(got) != 0 {
		t.Errorf("expected no output ports by default, got %d", len(got))
	}
}

func TestComponent_Health(t *testing.T) {
	cfg := DefaultConfig()
	cfgBytes, _ := json.Marshal(cfg)
	deps := component.Dependencies{}

	comp, err := NewComponent(cfgBytes, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := comp.(*Component)
	health := c.Health()

	if health.Healthy {
		t.Error("expected component to be unhealthy when not running")
	}
	if health.Status != "stopped" {
		t.Errorf("expected status 'stopped', got %s", health.Status)
	}
}

func TestComponent_IsRunning(t *testing.T) {
	cfg := DefaultConfig()
	cfgBytes, _ := json.Marshal(cfg)
	deps := component.Dependencies{}

	comp, err := NewComponent(cfgBytes, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := comp.(*Component)

	if c.IsRunning() {
		t.Error("expected component to not be running initially")
	}
}

func TestComponent_Initialize(t *testing.T) {
	cfg := DefaultConfig()
	cfgBytes, _ := json.Marshal(cfg)
	deps := component.Dependencies{}

	comp, err := NewComponent(cfgBytes, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := comp.(*Component)
	if err := c.Initialize(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestComponent_StartRequiresNATSClient(t *testing.T) {
	cfg := DefaultConfig()
	cfgBytes, _ := json.Marshal(cfg)
	deps := component.Dependencies{}

	comp, err := NewComponent(cfgBytes, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := comp.(*Component)
	if err := c.Start(t.Context()); err == nil {
		t.Error("expected error starting without a NATS client")
	}
}

func TestRegister(t *testing.T) {
	if err := Register(nil); err == nil {
		t.Error("expected error registering with a nil registry")
	}
}
