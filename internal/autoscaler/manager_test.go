package autoscaler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwood-io/driftwood/internal/engine"
	"github.com/driftwood-io/driftwood/internal/ir"
	"github.com/driftwood-io/driftwood/internal/provider"
	"github.com/driftwood-io/driftwood/internal/state"
	"github.com/driftwood-io/driftwood/providers/memory"
)

func newScalingFixture(t *testing.T) (*Manager, *memory.Provider, *state.Store) {
	t.Helper()
	mem := memory.New()
	registry := provider.NewRegistry()
	registry.Register("memory", func() (provider.Interface, error) {
		return mem, nil
	})
	require.NoError(t, registry.Load("memory"))

	eng := engine.NewEngine(registry)
	eng.ReadyPollInterval = 0
	eng.Retry = &engine.RetryPolicy{MaxRetries: 1}

	store := state.NewStore(nil)
	store.Put(&ir.ResourceState{
		Type:     "compute.LaunchTemplate",
		Name:     "web",
		Provider: "memory",
		Inputs:   map[string]any{"ami": "ami-1"},
		Outputs:  map[string]any{"id": "lt-1"},
	})

	return NewManager(eng, store), mem, store
}

func testGroup() *ir.ScalableGroup {
	return &ir.ScalableGroup{
		Name:                   "web",
		Provider:               "memory",
		LaunchTemplate:         "compute.LaunchTemplate.web",
		MemberType:             "compute.Instance",
		MinSize:                1,
		MaxSize:                10,
		DesiredCapacity:        2,
		HealthCheckGracePeriod: ir.Duration(30 * time.Second),
		Policy: &ir.TargetTrackingPolicy{
			Metric:      ir.MetricCPUUtilization,
			TargetValue: 10,
		},
	}
}

func seedMember(store *state.Store, group *ir.ScalableGroup, name string, launched time.Time) {
	store.Put(&ir.ResourceState{
		Type:      group.MemberType,
		Name:      name,
		Provider:  group.Provider,
		Inputs:    map[string]any{"group": group.Name, "ami": "ami-1"},
		Outputs:   map[string]any{"id": "mem-" + name},
		AppliedAt: launched,
	})
}

func TestManager_RegisterValidates(t *testing.T) {
	manager, _, _ := newScalingFixture(t)

	bad := testGroup()
	bad.DesiredCapacity = 99
	require.Error(t, manager.Register(bad))

	good := testGroup()
	require.NoError(t, manager.Register(good))
	require.Error(t, manager.Register(testGroup()), "duplicate registration should fail")
}

func TestManager_RegisterDiscoversMembersByLaunchTime(t *testing.T) {
	manager, _, store := newScalingFixture(t)
	group := testGroup()

	now := time.Now().UTC()
	seedMember(store, group, "web-young", now.Add(-time.Minute))
	seedMember(store, group, "web-old", now.Add(-time.Hour))
	// A record of the same type but another group is not adopted.
	store.Put(&ir.ResourceState{
		Type:     group.MemberType,
		Name:     "other",
		Provider: "memory",
		Inputs:   map[string]any{"group": "api"},
	})

	require.NoError(t, manager.Register(group))
	require.Len(t, group.Members, 2)
	assert.Equal(t, "web-old", group.Members[0].ID)
	assert.Equal(t, "web-young", group.Members[1].ID)
}

func TestManager_ScaleOutMaterializesMembers(t *testing.T) {
	manager, mem, store := newScalingFixture(t)
	group := testGroup()
	require.NoError(t, manager.Register(group))

	result, err := manager.SetCapacity(context.Background(), "web", 3, nil)
	require.NoError(t, err)

	succeeded, failed, _ := result.Counts()
	assert.Equal(t, 3, succeeded)
	assert.Zero(t, failed)

	assert.Len(t, group.Members, 3)
	assert.Equal(t, 3, group.DesiredCapacity)
	assert.Equal(t, 3, mem.LiveCount(group.MemberType))

	// Members carry the group stamp and the template's resolved id.
	for _, member := range group.Members {
		rec, ok := store.Get(group.MemberType + "." + member.ID)
		require.True(t, ok)
		assert.Equal(t, "web", rec.Inputs["group"])
		assert.Equal(t, "lt-1", rec.Outputs["launchTemplate"])
	}
}

func TestManager_ScaleInRemovesUnhealthyFirst(t *testing.T) {
	manager, _, store := newScalingFixture(t)
	group := testGroup()

	now := time.Now().UTC()
	seedMember(store, group, "web-oldest", now.Add(-3*time.Hour))
	seedMember(store, group, "web-mid", now.Add(-2*time.Hour))
	seedMember(store, group, "web-sick", now.Add(-time.Hour))
	require.NoError(t, manager.Register(group))

	health := map[string]bool{
		"web-oldest": true,
		"web-mid":    true,
		"web-sick":   false,
	}
	_, err := manager.SetCapacity(context.Background(), "web", 2, health)
	require.NoError(t, err)

	require.Len(t, group.Members, 2)
	var ids []string
	for _, m := range group.Members {
		ids = append(ids, m.ID)
	}
	assert.NotContains(t, ids, "web-sick")

	_, ok := store.Get(group.MemberType + ".web-sick")
	assert.False(t, ok, "victim should be removed from state")
}

func TestManager_ScaleInFallsBackToOldest(t *testing.T) {
	manager, _, store := newScalingFixture(t)
	group := testGroup()

	now := time.Now().UTC()
	seedMember(store, group, "web-oldest", now.Add(-3*time.Hour))
	seedMember(store, group, "web-newer", now.Add(-time.Hour))
	require.NoError(t, manager.Register(group))

	_, err := manager.SetCapacity(context.Background(), "web", 1, nil)
	require.NoError(t, err)

	require.Len(t, group.Members, 1)
	assert.Equal(t, "web-newer", group.Members[0].ID)
}

func TestManager_SetCapacityClampsToBounds(t *testing.T) {
	manager, mem, _ := newScalingFixture(t)
	group := testGroup()
	require.NoError(t, manager.Register(group))

	_, err := manager.SetCapacity(context.Background(), "web", 50, nil)
	require.NoError(t, err)
	assert.Len(t, group.Members, group.MaxSize)
	assert.Equal(t, group.MaxSize, mem.LiveCount(group.MemberType))

	_, err = manager.SetCapacity(context.Background(), "web", 0, nil)
	require.NoError(t, err)
	assert.Len(t, group.Members, group.MinSize)
}

func TestManager_SetCapacityUnknownGroup(t *testing.T) {
	manager, _, _ := newScalingFixture(t)
	_, err := manager.SetCapacity(context.Background(), "nope", 1, nil)
	require.Error(t, err)
}

func TestSelectVictims(t *testing.T) {
	now := time.Now()
	members := []*ir.Member{
		{ID: "a", LaunchedAt: now.Add(-3 * time.Hour)},
		{ID: "b", LaunchedAt: now.Add(-2 * time.Hour)},
		{ID: "c", LaunchedAt: now.Add(-1 * time.Hour)},
	}

	// Unhealthy beats age.
	victims := selectVictims(members, map[string]bool{"c": false}, 2)
	require.Len(t, victims, 2)
	assert.Equal(t, "c", victims[0].ID)
	assert.Equal(t, "a", victims[1].ID)

	// No health data: oldest first.
	victims = selectVictims(members, nil, 1)
	require.Len(t, victims, 1)
	assert.Equal(t, "a", victims[0].ID)

	// Asking for more than exists returns everything.
	victims = selectVictims(members, nil, 9)
	assert.Len(t, victims, 3)
}
