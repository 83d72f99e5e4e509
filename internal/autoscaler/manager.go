package autoscaler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftwood-io/driftwood/internal/engine"
	"github.com/driftwood-io/driftwood/internal/ir"
	"github.com/driftwood-io/driftwood/internal/logging"
	"github.com/driftwood-io/driftwood/internal/state"
)

// Manager is the single authoritative capacity setter for scalable groups.
// Both the reconciler CLI path and the autoscaling controllers change
// capacity through it; per-group mutual exclusion prevents conflicting
// desired-capacity writes. Member changes are materialized as plan items and
// executed through the reconciler's apply path.
type Manager struct {
	eng   *engine.Engine
	store *state.Store

	mu     sync.Mutex
	groups map[string]*groupEntry
}

type groupEntry struct {
	mu    sync.Mutex
	group *ir.ScalableGroup
}

func NewManager(eng *engine.Engine, store *state.Store) *Manager {
	return &Manager{
		eng:    eng,
		store:  store,
		groups: make(map[string]*groupEntry),
	}
}

// Register validates a group and adopts any members already present in
// state.
func (m *Manager) Register(group *ir.ScalableGroup) error {
	if err := group.Validate(); err != nil {
		return err
	}

	group.Members = m.discoverMembers(group)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.groups[group.Name]; exists {
		return fmt.Errorf("group %s already registered", group.Name)
	}
	m.groups[group.Name] = &groupEntry{group: group}
	return nil
}

// Group returns a registered group.
func (m *Manager) Group(name string) (*ir.ScalableGroup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.groups[name]
	if !ok {
		return nil, false
	}
	return e.group, true
}

// Groups returns all registered groups sorted by name.
func (m *Manager) Groups() []*ir.ScalableGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ir.ScalableGroup, 0, len(m.groups))
	for _, e := range m.groups {
		out = append(out, e.group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// discoverMembers rebuilds the member list from state records stamped with
// the group name, ordered by launch time.
func (m *Manager) discoverMembers(group *ir.ScalableGroup) []*ir.Member {
	var members []*ir.Member
	for _, rec := range m.store.List() {
		if rec.Type != group.MemberType {
			continue
		}
		if g, _ := rec.Inputs["group"].(string); g != group.Name {
			continue
		}
		members = append(members, &ir.Member{
			ID:         rec.Name,
			LaunchedAt: rec.AppliedAt,
		})
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].LaunchedAt.Before(members[j].LaunchedAt)
	})
	return members
}

// SetCapacity drives the group's member set to target, clamped to the
// group's bounds. Scale-in victims are chosen unhealthy-first, then
// oldest-first. health may be nil when no health information is available.
func (m *Manager) SetCapacity(ctx context.Context, name string, target int, health map[string]bool) (*ir.ApplyResult, error) {
	m.mu.Lock()
	entry, ok := m.groups[name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown group: %s", name)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	group := entry.group

	clamped := group.Clamp(target)
	if clamped != target {
		logging.Warn("capacity target clamped", "group", name, "requested", target, "clamped", clamped)
		target = clamped
	}

	current := len(group.Members)
	switch {
	case target > current:
		return m.scaleOut(ctx, group, target-current)
	case target < current:
		return m.scaleIn(ctx, group, current-target, health)
	default:
		group.DesiredCapacity = target
		return ir.NewApplyResult(), nil
	}
}

func (m *Manager) scaleOut(ctx context.Context, group *ir.ScalableGroup, n int) (*ir.ApplyResult, error) {
	logging.Info("scaling out", "group", group.Name, "add", n)

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{Timestamp: time.Now().UTC().Format(time.RFC3339)},
		Summary:  &ir.PlanSummary{Create: n},
	}
	var launched []*ir.Resource
	for i := 0; i < n; i++ {
		res := m.materializeMember(group)
		launched = append(launched, res)
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: res.Addr(),
			Action:  ir.ActionCreate,
			Desired: res,
		})
	}

	result, err := m.eng.ApplyPlan(ctx, plan, m.store)
	now := time.Now().UTC()
	for _, res := range launched {
		if st, ok := result.Statuses[res.Addr()]; ok && st.Outcome == ir.OutcomeSucceeded {
			group.Members = append(group.Members, &ir.Member{ID: res.Name, LaunchedAt: now})
		}
	}
	group.DesiredCapacity = len(group.Members)
	if err != nil {
		return result, fmt.Errorf("scale-out of group %s incomplete: %w", group.Name, err)
	}
	return result, nil
}

func (m *Manager) scaleIn(ctx context.Context, group *ir.ScalableGroup, n int, health map[string]bool) (*ir.ApplyResult, error) {
	victims := selectVictims(group.Members, health, n)
	logging.Info("scaling in", "group", group.Name, "remove", len(victims))

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{Timestamp: time.Now().UTC().Format(time.RFC3339)},
		Summary:  &ir.PlanSummary{Destroy: len(victims)},
	}
	for _, v := range victims {
		addr := group.MemberType + "." + v.ID
		rec, ok := m.store.Get(addr)
		if !ok {
			continue
		}
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: addr,
			Action:  ir.ActionDestroy,
			Prior: &ir.Resource{
				Type:       rec.Type,
				Name:       rec.Name,
				Provider:   rec.Provider,
				Attributes: rec.Inputs,
			},
		})
	}

	result, err := m.eng.ApplyPlan(ctx, plan, m.store)
	removed := make(map[string]bool)
	for _, v := range victims {
		addr := group.MemberType + "." + v.ID
		if st, ok := result.Statuses[addr]; ok && st.Outcome == ir.OutcomeSucceeded {
			removed[v.ID] = true
		}
	}
	var remaining []*ir.Member
	for _, member := range group.Members {
		if !removed[member.ID] {
			remaining = append(remaining, member)
		}
	}
	group.Members = remaining
	group.DesiredCapacity = len(group.Members)
	if err != nil {
		return result, fmt.Errorf("scale-in of group %s incomplete: %w", group.Name, err)
	}
	return result, nil
}

// materializeMember stamps a member resource out of the group's launch
// template. The member references the template's id so the dependency graph
// keeps ordering intact.
func (m *Manager) materializeMember(group *ir.ScalableGroup) *ir.Resource {
	id := fmt.Sprintf("%s-%s", group.Name, shortID())

	attrs := map[string]any{
		"group":          group.Name,
		"launchTemplate": engine.RefPrefix + group.LaunchTemplate + "/id",
	}
	if rec, ok := m.store.Get(group.LaunchTemplate); ok {
		for k, v := range rec.Inputs {
			if _, taken := attrs[k]; !taken {
				attrs[k] = deepCopyValue(v)
			}
		}
	}

	return &ir.Resource{
		Type:       group.MemberType,
		Name:       id,
		Provider:   group.Provider,
		DependsOn:  []string{group.LaunchTemplate},
		Attributes: attrs,
	}
}

// selectVictims picks members to remove: unhealthy first, then oldest-first
// among the healthy, biasing removal toward stale capacity.
func selectVictims(members []*ir.Member, health map[string]bool, n int) []*ir.Member {
	ordered := make([]*ir.Member, len(members))
	copy(ordered, members)

	healthy := func(m *ir.Member) bool {
		if health == nil {
			return true
		}
		h, known := health[m.ID]
		return !known || h
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		hi, hj := healthy(ordered[i]), healthy(ordered[j])
		if hi != hj {
			return !hi // unhealthy sorts first
		}
		return ordered[i].LaunchedAt.Before(ordered[j].LaunchedAt)
	})

	if n > len(ordered) {
		n = len(ordered)
	}
	return ordered[:n]
}

func shortID() string {
	return strings.Split(uuid.NewString(), "-")[0]
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
