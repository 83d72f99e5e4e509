package cli

import (
	"context"
	"fmt"

	"github.com/driftwood-io/driftwood/internal/config"
	"github.com/driftwood-io/driftwood/internal/engine"
	"github.com/driftwood-io/driftwood/internal/logging"
	"github.com/driftwood-io/driftwood/internal/provider"
	"github.com/driftwood-io/driftwood/internal/state"
	awsprovider "github.com/driftwood-io/driftwood/providers/aws"
	"github.com/driftwood-io/driftwood/providers/memory"
)

const defaultStatePath = ".driftwood/state.json"

// environment bundles everything a command needs: parsed config, provider
// registry, engine, state backend, and the loaded store.
type environment struct {
	file     *config.File
	registry *provider.Registry
	eng      *engine.Engine
	backend  state.Backend
	store    *state.Store
}

// loadEnvironment parses config, acquires the state lock, and loads state.
// The caller must defer env.backend.Unlock().
func loadEnvironment(ctx context.Context) (*environment, error) {
	file, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	// The flag wins over the config file for log level.
	if file.Settings.LogLevel != "" && !rootCmd.PersistentFlags().Changed("log-level") {
		logging.Init(file.Settings.LogLevel)
	}

	registry := provider.NewRegistry()
	registerProviders(registry, file.Settings)

	eng := engine.NewEngine(registry)
	if file.Settings.Parallelism > 0 {
		eng.Parallelism = file.Settings.Parallelism
	}

	backend, err := state.NewBackend(file.Settings.Backend, defaultStatePath)
	if err != nil {
		return nil, err
	}
	if err := backend.Lock(); err != nil {
		return nil, err
	}

	st, err := backend.Read(ctx)
	if err != nil {
		backend.Unlock()
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	return &environment{
		file:     file,
		registry: registry,
		eng:      eng,
		backend:  backend,
		store:    state.NewStore(st),
	}, nil
}

// registerProviders installs the provider factories. Providers are
// instantiated lazily: the AWS credential chain is only consulted when a
// resource actually uses the aws provider.
func registerProviders(registry *provider.Registry, settings *config.Settings) {
	registry.Register("memory", func() (provider.Interface, error) {
		return memory.New(), nil
	})
	registry.Register("aws", func() (provider.Interface, error) {
		return awsprovider.New(context.Background(), settings.Region)
	})
}

// persist snapshots the store to the backend. Called after apply even on
// partial failure so successful changes are never lost.
func (env *environment) persist(ctx context.Context) error {
	if err := env.backend.Write(ctx, env.store.Snapshot()); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}
