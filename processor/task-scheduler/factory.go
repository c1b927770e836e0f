package taskscheduler

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the task-scheduler component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "task-scheduler",
		Factory:     NewComponent,
		Schema:      taskSchedulerSchema,
		Type:        "processor",
		Protocol:    "workflow",
		Domain:      "scheduler",
		Description: "Reacts to task-completed/task-failed events to progress task graphs through running/blocked/finished",
		Version:     "0.1.0",
	})
}
