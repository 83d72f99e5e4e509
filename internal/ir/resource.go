package ir

import "fmt"

// Resource represents a single managed resource.
type Resource struct {
	Type       string         `yaml:"type" json:"type"` // e.g., "compute.LaunchTemplate"
	Name       string         `yaml:"name" json:"name"`
	Provider   string         `yaml:"provider" json:"provider"`
	Lifecycle  *Lifecycle     `yaml:"lifecycle,omitempty" json:"lifecycle,omitempty"`
	DependsOn  []string       `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
	Attributes map[string]any `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	Timeout    string         `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Addr returns the resource address (type.name).
func (r *Resource) Addr() string {
	return fmt.Sprintf("%s.%s", r.Type, r.Name)
}

type Lifecycle struct {
	// DestroyBeforeCreate inverts the default replacement sequencing for
	// resource types whose identity is globally unique.
	DestroyBeforeCreate bool     `yaml:"destroyBeforeCreate,omitempty" json:"destroyBeforeCreate,omitempty"`
	PreventDestroy      bool     `yaml:"preventDestroy,omitempty" json:"preventDestroy,omitempty"`
	IgnoreChanges       []string `yaml:"ignoreChanges,omitempty" json:"ignoreChanges,omitempty"`
}

// Config represents the top-level desired configuration.
type Config struct {
	Resources []*Resource      `yaml:"resources" json:"resources"`
	Groups    []*ScalableGroup `yaml:"groups,omitempty" json:"groups,omitempty"`
	Outputs   map[string]any   `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}
