package ir

import "time"

// State represents the persistent record of last-applied resources.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage"`
	Resources []*ResourceState `json:"resources"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
}

// ResourceState is the durable record for one resource. It is mutated only
// after a successful apply of that resource.
type ResourceState struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Provider     string         `json:"provider"`
	Inputs       map[string]any `json:"inputs,omitempty"`  // last-applied attributes
	Outputs      map[string]any `json:"outputs,omitempty"` // provider returned, incl. "id"
	Dependencies []string       `json:"dependencies,omitempty"`
	AppliedAt    time.Time      `json:"appliedAt"`
}

// Addr returns the record's resource address (type.name).
func (rs *ResourceState) Addr() string {
	return rs.Type + "." + rs.Name
}

// ID returns the provider-assigned identifier, if any.
func (rs *ResourceState) ID() string {
	if rs.Outputs == nil {
		return ""
	}
	if id, ok := rs.Outputs["id"].(string); ok {
		return id
	}
	return ""
}
