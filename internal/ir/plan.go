package ir

// Action enumerates the change kinds a plan can carry.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionReplace Action = "REPLACE"
	ActionDestroy Action = "DESTROY"
	ActionNoOp    Action = "NOOP"
)

// Plan represents a calculated execution plan. It is immutable once computed.
type Plan struct {
	Metadata *PlanMetadata     `json:"metadata"`
	Changes  []*ResourceChange `json:"changes"`
	Summary  *PlanSummary      `json:"summary"`
	Outputs  map[string]any    `json:"outputs,omitempty"`
}

// HasChanges reports whether the plan contains anything beyond no-ops.
func (p *Plan) HasChanges() bool {
	return len(p.Changes) > 0
}

type PlanMetadata struct {
	Timestamp string `json:"timestamp"`
}

type ResourceChange struct {
	Address string                    `json:"address"`
	Action  Action                    `json:"action"`
	Desired *Resource                 `json:"desired,omitempty"`
	Prior   *Resource                 `json:"prior,omitempty"`
	Diff    map[string]*AttributeDiff `json:"diff,omitempty"`
}

type AttributeDiff struct {
	Before            any    `json:"before,omitempty"`
	After             any    `json:"after,omitempty"`
	ForcesReplacement bool   `json:"forcesReplacement,omitempty"`
	Action            string `json:"action"` // "create", "update", "delete"
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Destroy int `json:"destroy"`
	Replace int `json:"replace"`
	NoOp    int `json:"noop"`
}
