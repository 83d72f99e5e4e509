package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/driftwood-io/driftwood/internal/ir"
	"github.com/driftwood-io/driftwood/internal/logging"
	"github.com/driftwood-io/driftwood/internal/provider"
	"github.com/driftwood-io/driftwood/internal/state"
)

// Engine reconciles desired configuration against last-applied state.
type Engine struct {
	registry *provider.Registry

	// Parallelism bounds the apply worker pool.
	Parallelism int
	// Retry governs transient provider error handling per plan item.
	Retry *RetryPolicy
	// ReadyPollInterval is how often readiness is re-checked after a
	// create/update. Tests shrink this.
	ReadyPollInterval time.Duration
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry:          registry,
		Parallelism:       10,
		Retry:             DefaultRetryPolicy(),
		ReadyPollInterval: 2 * time.Second,
	}
}

// CreatePlan generates an execution plan by comparing desired config with
// current state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, store *state.Store) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, store, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource
// addresses plus their transitive dependencies. If targets is empty, all
// resources are planned.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, store *state.Store, targets []string) (*ir.Plan, error) {
	current := store.List()
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(current), "targets", len(targets))

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	configByAddr := make(map[string]*ir.Resource)
	for _, res := range cfg.Resources {
		addr := res.Addr()
		if _, dup := configByAddr[addr]; dup {
			return nil, &ConfigError{Msg: fmt.Sprintf("duplicate resource address %s", addr)}
		}
		configByAddr[addr] = res
		if err := e.registry.Load(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}

	stateByAddr := make(map[string]*ir.ResourceState)
	for _, res := range current {
		stateByAddr[res.Addr()] = res
		if res.Provider != "" {
			if err := e.registry.Load(res.Provider); err != nil {
				return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
			}
		}
	}

	if err := checkReferences(cfg.Resources, configByAddr, stateByAddr); err != nil {
		return nil, err
	}

	dag, err := BuildDAG(cfg.Resources)
	if err != nil {
		var cycle *CycleError
		if errors.As(err, &cycle) {
			return nil, cycle
		}
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = dag.Subgraph(targets)
	}

	// Creation order guarantees a resource is diffed after everything it
	// references, so replacements can force their dependents into the plan.
	replaced := make(map[string]bool)
	for _, addr := range dag.CreationOrder() {
		res, ok := configByAddr[addr]
		if !ok {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		change, err := e.diffResource(res, stateByAddr[addr], replaced)
		if err != nil {
			return nil, err
		}

		switch change.Action {
		case ir.ActionNoOp:
			plan.Summary.NoOp++
			continue
		case ir.ActionCreate:
			plan.Summary.Create++
		case ir.ActionUpdate:
			plan.Summary.Update++
		case ir.ActionReplace:
			plan.Summary.Replace++
			replaced[addr] = true
		}
		plan.Changes = append(plan.Changes, change)
	}

	// Destroys: resources in state but no longer in config, in reverse
	// dependency order.
	var removed []*ir.ResourceState
	for _, res := range current {
		if _, ok := configByAddr[res.Addr()]; !ok {
			removed = append(removed, res)
		}
	}
	if len(removed) > 0 {
		stateDAG, err := BuildDAGFromState(removed)
		if err != nil {
			return nil, fmt.Errorf("failed to order destroys: %w", err)
		}
		for _, addr := range stateDAG.DestructionOrder() {
			res, ok := stateByAddr[addr]
			if !ok {
				continue
			}
			if _, stillDesired := configByAddr[addr]; stillDesired {
				continue
			}
			if targetSet != nil && !targetSet[addr] {
				continue
			}
			plan.Changes = append(plan.Changes, &ir.ResourceChange{
				Address: addr,
				Action:  ir.ActionDestroy,
				Prior: &ir.Resource{
					Type:       res.Type,
					Name:       res.Name,
					Provider:   res.Provider,
					DependsOn:  res.Dependencies,
					Attributes: res.Inputs,
				},
				Diff: buildDestroyDiff(res.Inputs),
			})
			plan.Summary.Destroy++
		}
	}

	return plan, nil
}

// diffResource computes the change for one resource by attribute-level
// comparison against its last-applied record. replaced holds the addresses
// already marked for replacement in this plan: a reference to one of them is
// a change even when the raw ref text is identical, because the target's
// identity is about to change.
func (e *Engine) diffResource(res *ir.Resource, prior *ir.ResourceState, replaced map[string]bool) (*ir.ResourceChange, error) {
	addr := res.Addr()

	change := &ir.ResourceChange{
		Address: addr,
		Desired: res,
	}

	if prior == nil {
		change.Action = ir.ActionCreate
		change.Diff = buildCreateDiff(res.Attributes)
		return change, nil
	}

	change.Prior = &ir.Resource{
		Type:       prior.Type,
		Name:       prior.Name,
		Provider:   prior.Provider,
		Attributes: prior.Inputs,
	}

	prov, err := e.registry.Get(res.Provider)
	if err != nil {
		return nil, err
	}
	schema, err := prov.Schema(res.Type)
	if err != nil {
		return nil, fmt.Errorf("no schema for %s: %w", res.Type, err)
	}

	diff := buildAttributeDiff(prior.Inputs, res.Attributes, schema)
	for k, v := range res.Attributes {
		if _, ok := diff[k]; ok {
			continue
		}
		if !refersToAny(v, replaced) {
			continue
		}
		diff[k] = &ir.AttributeDiff{
			Before:            prior.Inputs[k],
			After:             v,
			Action:            "update",
			ForcesReplacement: schema.ForcesReplacement(k),
		}
	}
	filterIgnoredChanges(res, diff)

	if len(diff) == 0 {
		change.Action = ir.ActionNoOp
		return change, nil
	}

	change.Diff = diff
	change.Action = ir.ActionUpdate
	for _, d := range diff {
		if d.ForcesReplacement {
			change.Action = ir.ActionReplace
			break
		}
	}

	if res.Lifecycle != nil && res.Lifecycle.PreventDestroy && change.Action == ir.ActionReplace {
		return nil, &ConfigError{Msg: fmt.Sprintf(
			"resource %s has preventDestroy set but plan requires replacement", addr)}
	}

	return change, nil
}

// checkReferences verifies every ref:// points at a known resource.
func checkReferences(resources []*ir.Resource, cfg map[string]*ir.Resource, st map[string]*ir.ResourceState) error {
	for _, res := range resources {
		for _, ref := range ExtractRefs(res.Attributes) {
			addr, attr := SplitRef(ref)
			if addr == "" || attr == "" {
				return &ConfigError{Msg: fmt.Sprintf("resource %s has malformed reference %q", res.Addr(), ref)}
			}
			if _, ok := cfg[addr]; ok {
				continue
			}
			if _, ok := st[addr]; ok {
				continue
			}
			return &ConfigError{Msg: fmt.Sprintf("resource %s references unknown resource %s", res.Addr(), addr)}
		}
		for _, dep := range res.DependsOn {
			if _, ok := cfg[dep]; !ok {
				return &ConfigError{Msg: fmt.Sprintf("resource %s depends on unknown resource %s", res.Addr(), dep)}
			}
		}
	}
	return nil
}

// refersToAny reports whether v contains a ref:// to any of the addresses.
func refersToAny(v any, addrs map[string]bool) bool {
	if len(addrs) == 0 {
		return false
	}
	for _, ref := range ExtractRefs(v) {
		if addr, _ := SplitRef(ref); addrs[addr] {
			return true
		}
	}
	return false
}

// filterIgnoredChanges drops diffs for attributes listed in ignoreChanges.
func filterIgnoredChanges(res *ir.Resource, diff map[string]*ir.AttributeDiff) {
	if res.Lifecycle == nil || len(res.Lifecycle.IgnoreChanges) == 0 {
		return
	}
	for _, attr := range res.Lifecycle.IgnoreChanges {
		delete(diff, attr)
	}
}

// buildAttributeDiff compares prior and desired attributes.
func buildAttributeDiff(prior, desired map[string]any, schema *provider.Schema) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.AttributeDiff{
				After:             desiredVal,
				Action:            "create",
				ForcesReplacement: schema.ForcesReplacement(k),
			}
		case !inDesired:
			diff[k] = &ir.AttributeDiff{
				Before:            priorVal,
				Action:            "delete",
				ForcesReplacement: schema.ForcesReplacement(k),
			}
		case fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal):
			diff[k] = &ir.AttributeDiff{
				Before:            priorVal,
				After:             desiredVal,
				Action:            "update",
				ForcesReplacement: schema.ForcesReplacement(k),
			}
		}
	}

	return diff
}

func buildCreateDiff(attrs map[string]any) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff)
	for k, v := range attrs {
		diff[k] = &ir.AttributeDiff{
			After:  v,
			Action: "create",
		}
	}
	return diff
}

func buildDestroyDiff(attrs map[string]any) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff)
	for k, v := range attrs {
		diff[k] = &ir.AttributeDiff{
			Before: v,
			Action: "delete",
		}
	}
	return diff
}
