package state

import (
	"context"
	"fmt"

	"github.com/driftwood-io/driftwood/internal/ir"
)

// Backend defines the interface for state storage backends.
type Backend interface {
	// Read loads the state from the backend.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the state to the backend.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires an exclusive lock on the state.
	Lock() error

	// Unlock releases the lock on the state.
	Unlock() error
}

// BackendConfig holds configuration for a state backend.
type BackendConfig struct {
	Type   string            `yaml:"type" json:"type"` // "local", "s3"
	Config map[string]string `yaml:"config,omitempty" json:"config,omitempty"`
}

// NewBackend creates a state backend from configuration.
func NewBackend(cfg *BackendConfig, defaultPath string) (Backend, error) {
	if cfg == nil || cfg.Type == "" || cfg.Type == "local" {
		path := defaultPath
		if cfg != nil && cfg.Config["path"] != "" {
			path = cfg.Config["path"]
		}
		return NewLocalBackend(path), nil
	}

	switch cfg.Type {
	case "s3":
		return newS3Backend(cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
