package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/driftwood-io/driftwood/internal/ir"
	"github.com/driftwood-io/driftwood/internal/logging"
	"github.com/driftwood-io/driftwood/internal/provider"
	"github.com/driftwood-io/driftwood/internal/state"
)

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   ir.Action
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// ApplyPlan executes a plan against the state store. Independent subtrees of
// the dependency graph run in parallel; a failure halts only its dependent
// subtree. The returned result enumerates every resource's outcome even when
// an error is returned.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, store *state.Store) (*ir.ApplyResult, error) {
	return e.ApplyPlanWithCallback(ctx, plan, store, nil)
}

// ApplyPlanWithCallback executes a plan with progress event callbacks.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, store *state.Store, callback ApplyCallback) (*ir.ApplyResult, error) {
	result := ir.NewApplyResult()

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	// Destroys run after all creates/updates, in reverse dependency order.
	var forward, destroys []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == ir.ActionDestroy {
			destroys = append(destroys, change)
		} else {
			forward = append(forward, change)
		}
	}

	var errs []error
	if err := e.applyWave(ctx, forward, store, result, emit, false); err != nil {
		errs = append(errs, err)
	}
	if err := e.applyWave(ctx, destroys, store, result, emit, true); err != nil {
		errs = append(errs, err)
	}

	store.SetOutputs(plan.Outputs)

	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}
	return result, nil
}

// applyWave runs one batch of changes concurrently. Dependency edges between
// items enforce happens-before: an item starts only once everything it
// depends on reached terminal success. For destroy waves the edges are
// reversed (dependents are destroyed before their dependencies).
func (e *Engine) applyWave(ctx context.Context, changes []*ir.ResourceChange, store *state.Store, result *ir.ApplyResult, emit func(ApplyEvent), reverse bool) error {
	if len(changes) == 0 {
		return nil
	}

	changeMap := make(map[string]*ir.ResourceChange)
	for _, c := range changes {
		changeMap[c.Address] = c
	}

	deps := make(map[string]map[string]bool)
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
	}
	for _, c := range changes {
		for _, d := range changeDeps(c) {
			if _, ok := changeMap[d]; !ok {
				continue
			}
			if reverse {
				deps[d][c.Address] = true
			} else {
				deps[c.Address][d] = true
			}
		}
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	mu := sync.Mutex{}
	cond := sync.NewCond(&mu)
	var allErrs []error
	sem := semaphore.NewWeighted(int64(e.Parallelism))

	var wg sync.WaitGroup
	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			// Wait for dependencies to reach a terminal state.
			mu.Lock()
			for {
				if ctx.Err() != nil {
					result.Record(c.Address, c.Action, ir.OutcomeSkipped, 0, ctx.Err())
					mu.Unlock()
					cond.Broadcast()
					return
				}
				allDepsReady := true
				depFailed := false
				for dep := range deps[c.Address] {
					if failed[dep] {
						depFailed = true
						break
					}
					if !completed[dep] {
						allDepsReady = false
						break
					}
				}
				if depFailed {
					// Ancestor failed: this resource is skipped, and its own
					// dependents cascade the same way.
					failed[c.Address] = true
					result.Record(c.Address, c.Action, ir.OutcomeSkipped, 0, nil)
					emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "skipped"})
					mu.Unlock()
					cond.Broadcast()
					return
				}
				if allDepsReady {
					break
				}
				cond.Wait()
			}
			mu.Unlock()

			// Cancellation checkpoint: never start a new item after cancel.
			if err := ctx.Err(); err != nil {
				mu.Lock()
				result.Record(c.Address, c.Action, ir.OutcomeSkipped, 0, err)
				mu.Unlock()
				cond.Broadcast()
				return
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				result.Record(c.Address, c.Action, ir.OutcomeSkipped, 0, err)
				mu.Unlock()
				cond.Broadcast()
				return
			}

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})
			err := e.applyChange(ctx, c, store)
			sem.Release(1)

			mu.Lock()
			if err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
				allErrs = append(allErrs, err)
				failed[c.Address] = true
				result.Record(c.Address, c.Action, ir.OutcomeFailed, time.Since(start), err)
			} else {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: time.Since(start)})
				completed[c.Address] = true
				result.Record(c.Address, c.Action, ir.OutcomeSucceeded, time.Since(start), nil)
			}
			mu.Unlock()
			cond.Broadcast()
		}(change)
	}

	wg.Wait()

	if len(allErrs) > 0 {
		return fmt.Errorf("%d resource(s) failed: %w", len(allErrs), errors.Join(allErrs...))
	}
	return nil
}

// changeDeps lists the addresses a change depends on.
func changeDeps(c *ir.ResourceChange) []string {
	var out []string
	if c.Desired != nil {
		out = append(out, c.Desired.DependsOn...)
		for _, ref := range ExtractRefs(c.Desired.Attributes) {
			if addr, _ := SplitRef(ref); addr != "" {
				out = append(out, addr)
			}
		}
	} else if c.Prior != nil {
		out = append(out, c.Prior.DependsOn...)
		for _, ref := range ExtractRefs(c.Prior.Attributes) {
			if addr, _ := SplitRef(ref); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// applyChange executes one plan item, holding the per-resource lock for the
// whole diff-read -> apply -> state-write span.
func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, store *state.Store) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	unlock := store.LockResource(addr)
	defer unlock()

	// The per-resource timeout bounds each readiness wait, not the whole
	// change, so a timed-out attempt can still be retried.
	timeout := DefaultTimeout
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}

	provName := ""
	if change.Desired != nil {
		provName = change.Desired.Provider
	} else if change.Prior != nil {
		provName = change.Prior.Provider
	}
	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not found for %s: %w", addr, err)
	}

	switch change.Action {
	case ir.ActionCreate:
		return e.createResource(ctx, prov, change, store, timeout)
	case ir.ActionUpdate:
		return e.updateResource(ctx, prov, change, store, timeout)
	case ir.ActionReplace:
		return e.replaceResource(ctx, prov, change, store, timeout)
	case ir.ActionDestroy:
		return e.destroyResource(ctx, prov, change, store)
	}
	return nil
}

func (e *Engine) createResource(ctx context.Context, prov provider.Interface, change *ir.ResourceChange, store *state.Store, timeout time.Duration) error {
	res := change.Desired
	attrs := resolveReferences(res.Attributes, store).(map[string]any)

	var created *provider.CreateResponse
	err := RetryWithBackoff(ctx, e.Retry, func() error {
		if created == nil {
			resp, err := prov.Create(ctx, &provider.CreateRequest{
				Type:       res.Type,
				Name:       res.Name,
				Attributes: attrs,
			})
			if err != nil {
				return err
			}
			created = resp
		}
		// Readiness is re-awaited on retry without re-creating. Each attempt
		// gets a fresh deadline so a timeout stays retryable.
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return e.awaitReady(waitCtx, prov, res.Type, change.Address, created.ID)
	}, IsTransient)
	if err != nil {
		return &ProviderError{Address: change.Address, Op: "create", Transient: false, Err: err}
	}

	store.Put(&ir.ResourceState{
		Type:         res.Type,
		Name:         res.Name,
		Provider:     res.Provider,
		Inputs:       snapshotAttrs(res.Attributes),
		Outputs:      withID(created.Outputs, created.ID),
		Dependencies: changeDeps(change),
	})
	return nil
}

func (e *Engine) updateResource(ctx context.Context, prov provider.Interface, change *ir.ResourceChange, store *state.Store, timeout time.Duration) error {
	res := change.Desired
	prior, ok := store.Get(change.Address)
	if !ok {
		// Record vanished since planning; fall back to create.
		return e.createResource(ctx, prov, change, store, timeout)
	}
	attrs := resolveReferences(res.Attributes, store).(map[string]any)

	var updated *provider.UpdateResponse
	err := RetryWithBackoff(ctx, e.Retry, func() error {
		resp, err := prov.Update(ctx, &provider.UpdateRequest{
			Type:       res.Type,
			Name:       res.Name,
			ID:         prior.ID(),
			Attributes: attrs,
			Prior:      prior.Inputs,
		})
		if err != nil {
			return err
		}
		updated = resp
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return e.awaitReady(waitCtx, prov, res.Type, change.Address, prior.ID())
	}, IsTransient)
	if err != nil {
		return &ProviderError{Address: change.Address, Op: "update", Transient: false, Err: err}
	}

	outputs := updated.Outputs
	if outputs == nil {
		outputs = prior.Outputs
	}
	store.Put(&ir.ResourceState{
		Type:         res.Type,
		Name:         res.Name,
		Provider:     res.Provider,
		Inputs:       snapshotAttrs(res.Attributes),
		Outputs:      withID(outputs, prior.ID()),
		Dependencies: changeDeps(change),
	})
	return nil
}

// replaceResource sequences create-new -> rewire (state write) -> destroy-old
// so dependents never observe a gap. DestroyBeforeCreate lifecycle inverts
// the order for types whose identity is unique.
func (e *Engine) replaceResource(ctx context.Context, prov provider.Interface, change *ir.ResourceChange, store *state.Store, timeout time.Duration) error {
	res := change.Desired
	prior, _ := store.Get(change.Address)
	oldID := ""
	if prior != nil {
		oldID = prior.ID()
	}

	if res.Lifecycle != nil && res.Lifecycle.DestroyBeforeCreate {
		if oldID != "" {
			if err := e.deleteByID(ctx, prov, res.Type, change.Address, oldID); err != nil {
				return err
			}
			store.Remove(change.Address)
		}
		return e.createResource(ctx, prov, change, store, timeout)
	}

	// Default: the old instance is destroyed only after the replacement is
	// ready and the state record points dependents at it.
	if err := e.createResource(ctx, prov, change, store, timeout); err != nil {
		return err
	}
	if oldID != "" {
		if err := e.deleteByID(ctx, prov, res.Type, change.Address, oldID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) destroyResource(ctx context.Context, prov provider.Interface, change *ir.ResourceChange, store *state.Store) error {
	prior, ok := store.Get(change.Address)
	if !ok {
		return nil
	}
	if id := prior.ID(); id != "" {
		if err := e.deleteByID(ctx, prov, prior.Type, change.Address, id); err != nil {
			return err
		}
	}
	store.Remove(change.Address)
	return nil
}

func (e *Engine) deleteByID(ctx context.Context, prov provider.Interface, resType, addr, id string) error {
	err := RetryWithBackoff(ctx, e.Retry, func() error {
		return prov.Delete(ctx, &provider.DeleteRequest{Type: resType, ID: id})
	}, IsTransient)
	if err != nil {
		return &ProviderError{Address: addr, Op: "delete", Transient: false, Err: err}
	}
	return nil
}

// awaitReady polls the provider until the resource reports ready, bounded by
// the context deadline. Exceeding the bound is a TimeoutError, retryable at
// the plan-item level.
func (e *Engine) awaitReady(ctx context.Context, prov provider.Interface, resType, addr, id string) error {
	start := time.Now()
	for {
		resp, err := prov.Read(ctx, &provider.ReadRequest{Type: resType, ID: id})
		if err != nil {
			return &ProviderError{Address: addr, Op: "read", Transient: IsTransient(err), Err: err}
		}
		if resp.Exists && resp.Ready {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &TimeoutError{Address: addr, Waited: time.Since(start)}
			}
			return ctx.Err()
		case <-time.After(e.ReadyPollInterval):
		}
	}
}

// snapshotAttrs deep-copies an attribute map before it is written to a state
// record, so later mutation of the desired configuration cannot reach into
// durable state and mask a real diff.
func snapshotAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	return copyValue(attrs).(map[string]any)
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

func withID(outputs map[string]any, id string) map[string]any {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	if _, ok := outputs["id"]; !ok && id != "" {
		outputs["id"] = id
	}
	return outputs
}

// resolveReferences substitutes ref:// values with recorded outputs.
func resolveReferences(val any, store *state.Store) any {
	switch v := val.(type) {
	case string:
		if addr, attr := SplitRef(v); addr != "" {
			if resolved, ok := store.Resolve(addr, attr); ok {
				return resolved
			}
		}
		return v
	case map[string]any:
		newMap := make(map[string]any, len(v))
		for k, item := range v {
			newMap[k] = resolveReferences(item, store)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(v))
		for i, item := range v {
			newSlice[i] = resolveReferences(item, store)
		}
		return newSlice
	default:
		return v
	}
}
