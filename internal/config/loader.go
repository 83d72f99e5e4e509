// Package config loads the desired configuration from YAML and applies
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/driftwood-io/driftwood/internal/engine"
	"github.com/driftwood-io/driftwood/internal/ir"
	"github.com/driftwood-io/driftwood/internal/state"
)

// Settings holds runtime knobs that are not part of the resource model.
type Settings struct {
	Parallelism int                  `yaml:"parallelism,omitempty"`
	LogLevel    string               `yaml:"logLevel,omitempty"`
	Region      string               `yaml:"region,omitempty"`
	Backend     *state.BackendConfig `yaml:"backend,omitempty"`
}

// File is the top-level YAML document.
type File struct {
	Settings  *Settings           `yaml:"settings,omitempty"`
	Resources []*ir.Resource      `yaml:"resources"`
	Groups    []*ir.ScalableGroup `yaml:"groups,omitempty"`
	Outputs   map[string]any      `yaml:"outputs,omitempty"`
}

// Config extracts the resource model portion.
func (f *File) Config() *ir.Config {
	return &ir.Config{
		Resources: f.Resources,
		Groups:    f.Groups,
		Outputs:   f.Outputs,
	}
}

// Load reads, parses, validates, and applies env overrides.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &engine.ConfigError{Msg: fmt.Sprintf("parse %s: %v", path, err)}
	}

	if f.Settings == nil {
		f.Settings = &Settings{}
	}
	applyEnv(f.Settings)

	if err := validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// applyEnv lets DRIFTWOOD_* variables override file settings; the
// environment wins so operators can tune a checked-in config per host.
func applyEnv(s *Settings) {
	if v := os.Getenv("DRIFTWOOD_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Parallelism = n
		}
	}
	if v := os.Getenv("DRIFTWOOD_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("DRIFTWOOD_REGION"); v != "" {
		s.Region = v
	}
}

func validate(f *File) error {
	seen := make(map[string]bool)
	for _, res := range f.Resources {
		if res.Type == "" || res.Name == "" {
			return &engine.ConfigError{Msg: "resource missing type or name"}
		}
		if res.Provider == "" {
			return &engine.ConfigError{Msg: fmt.Sprintf("resource %s has no provider", res.Addr())}
		}
		addr := res.Addr()
		if seen[addr] {
			return &engine.ConfigError{Msg: fmt.Sprintf("duplicate resource address: %s", addr)}
		}
		seen[addr] = true

		if res.Timeout != "" {
			if _, err := time.ParseDuration(res.Timeout); err != nil {
				return &engine.ConfigError{Msg: fmt.Sprintf("resource %s: invalid timeout %q", addr, res.Timeout)}
			}
		}
	}

	groupNames := make(map[string]bool)
	for _, group := range f.Groups {
		if group.Name == "" {
			return &engine.ConfigError{Msg: "group missing name"}
		}
		if groupNames[group.Name] {
			return &engine.ConfigError{Msg: fmt.Sprintf("duplicate group name: %s", group.Name)}
		}
		groupNames[group.Name] = true

		if group.LaunchTemplate != "" && !seen[group.LaunchTemplate] {
			return &engine.ConfigError{Msg: fmt.Sprintf(
				"group %s references unknown launch template %s", group.Name, group.LaunchTemplate)}
		}
		if err := group.Validate(); err != nil {
			return &engine.ConfigError{Msg: err.Error()}
		}
	}
	return nil
}
