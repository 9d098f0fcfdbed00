package services

import "context"

// ServiceStatus represents the current state of a service.
type ServiceStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// Service is a long running component supervised by the coordinator.
type Service interface {
	// Name returns the unique name of the service.
	Name() string

	// Run blocks until ctx is cancelled or the service fails. A nil return
	// after cancellation is a clean exit.
	Run(ctx context.Context) error
}
