package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Scheduler.ID != "scheduler" {
		t.Errorf("expected default scheduler id 'scheduler', got %s", cfg.Scheduler.ID)
	}
	if cfg.Scheduler.AckWait != 30*time.Second {
		t.Errorf("expected default ack_wait 30s, got %v", cfg.Scheduler.AckWait)
	}
	if !cfg.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
	if cfg.Streams.BlockedSubject == "" || cfg.Streams.FinishedSubject == "" {
		t.Error("expected default blocked/finished subjects to be set")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}, wantErr: false},
		{name: "missing scheduler id", modify: func(c *Config) { c.Scheduler.ID = "" }, wantErr: true},
		{name: "non-positive ack wait", modify: func(c *Config) { c.Scheduler.AckWait = 0 }, wantErr: true},
		{name: "non-positive max deliver", modify: func(c *Config) { c.Scheduler.MaxDeliver = 0 }, wantErr: true},
		{name: "missing completed stream", modify: func(c *Config) { c.Streams.CompletedStreamName = "" }, wantErr: true},
		{name: "missing blocked subject", modify: func(c *Config) { c.Streams.BlockedSubject = "" }, wantErr: true},
		{name: "missing rerun subject", modify: func(c *Config) { c.Streams.RerunSubject = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
scheduler:
  id: "scheduler-test"
  ack_wait: 45s
  max_deliver: 5
nats:
  url: "nats://test:4222"
streams:
  completed_stream_name: "EXECQUEUE"
  scope_allowlist:
    - "team-a.*"
    - "team-b.**"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Scheduler.ID != "scheduler-test" {
		t.Errorf("expected scheduler id scheduler-test, got %s", cfg.Scheduler.ID)
	}
	if cfg.Scheduler.AckWait != 45*time.Second {
		t.Errorf("expected ack_wait 45s, got %v", cfg.Scheduler.AckWait)
	}
	if cfg.Scheduler.MaxDeliver != 5 {
		t.Errorf("expected max_deliver 5, got %d", cfg.Scheduler.MaxDeliver)
	}
	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if len(cfg.Streams.ScopeAllowlist) != 2 {
		t.Errorf("expected 2 scope patterns, got %d", len(cfg.Streams.ScopeAllowlist))
	}
	// Fields absent from the file keep their defaults.
	if cfg.Streams.BlockedSubject != "EVENTS.task-graph-blocked" {
		t.Errorf("expected default blocked subject to survive merge, got %s", cfg.Streams.BlockedSubject)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Scheduler: SchedulerConfig{ID: "override-id"},
		NATS:      NATSConfig{URL: "nats://override:4222"},
	}

	base.Merge(override)

	if base.Scheduler.ID != "override-id" {
		t.Errorf("expected scheduler id override-id, got %s", base.Scheduler.ID)
	}
	// AckWait should remain from base since override didn't set it.
	if base.Scheduler.AckWait != 30*time.Second {
		t.Errorf("expected ack_wait to remain default, got %v", base.Scheduler.AckWait)
	}
	if base.NATS.URL != "nats://override:4222" {
		t.Errorf("expected NATS url nats://override:4222, got %s", base.NATS.URL)
	}
	if base.NATS.Embedded {
		t.Error("expected embedded to be disabled once an explicit URL is merged in")
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Scheduler.ID = "saved-id"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Scheduler.ID != "saved-id" {
		t.Errorf("expected scheduler id saved-id, got %s", loaded.Scheduler.ID)
	}
}
