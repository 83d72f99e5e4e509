package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwood-io/driftwood/internal/ir"
	"github.com/driftwood-io/driftwood/internal/state"
	"github.com/driftwood-io/driftwood/providers/memory"
)

func TestApplyPlan_CreatesWebTier(t *testing.T) {
	eng, mem := newTestEngine(t)
	store := state.NewStore(nil)
	cfg := webTierConfig()

	plan, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)

	result, err := eng.ApplyPlan(context.Background(), plan, store)
	require.NoError(t, err)

	succeeded, failed, skipped := result.Counts()
	assert.Equal(t, 3, succeeded)
	assert.Zero(t, failed)
	assert.Zero(t, skipped)

	assert.Equal(t, 1, mem.LiveCount("network.SecurityGroup"))
	assert.Equal(t, 1, mem.LiveCount("compute.LaunchTemplate"))
	assert.Equal(t, 1, mem.LiveCount("compute.Instance"))

	// References were substituted with real provider ids before create.
	template, ok := store.Get("compute.LaunchTemplate.web")
	require.True(t, ok)
	instance, ok := store.Get("compute.Instance.web-0")
	require.True(t, ok)
	assert.Equal(t, template.ID(), instance.Outputs["launchTemplate"])
}

func TestApplyPlan_SecondApplyConverges(t *testing.T) {
	eng, _ := newTestEngine(t)
	store := state.NewStore(nil)
	cfg := webTierConfig()

	plan, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)
	_, err = eng.ApplyPlan(context.Background(), plan, store)
	require.NoError(t, err)

	again, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)
	assert.False(t, again.HasChanges(), "second plan should be empty")
}

func TestApplyPlan_TransientFailureRetried(t *testing.T) {
	eng, mem := newTestEngine(t)
	store := state.NewStore(nil)
	mem.InjectFault("compute.Instance.web", &memory.Fault{TransientCreates: 2})

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "compute.Instance", Name: "web", Provider: "memory"},
		},
	}
	plan, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)

	_, err = eng.ApplyPlan(context.Background(), plan, store)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.LiveCount("compute.Instance"))
}

func TestApplyPlan_PermanentFailureSkipsDependents(t *testing.T) {
	eng, mem := newTestEngine(t)
	store := state.NewStore(nil)
	mem.InjectFault("compute.LaunchTemplate.web", &memory.Fault{PermanentCreate: true})

	plan, err := eng.CreatePlan(context.Background(), webTierConfig(), store)
	require.NoError(t, err)

	result, err := eng.ApplyPlan(context.Background(), plan, store)
	require.Error(t, err)

	// The security group has no failed ancestor and still lands; the
	// template fails; the instance is skipped, not attempted.
	assert.Equal(t, ir.OutcomeSucceeded, result.Statuses["network.SecurityGroup.web"].Outcome)
	assert.Equal(t, ir.OutcomeFailed, result.Statuses["compute.LaunchTemplate.web"].Outcome)
	assert.Equal(t, ir.OutcomeSkipped, result.Statuses["compute.Instance.web-0"].Outcome)

	assert.Equal(t, 1, mem.LiveCount("network.SecurityGroup"))
	assert.Zero(t, mem.LiveCount("compute.Instance"))

	// What succeeded is in state; what failed is not.
	_, ok := store.Get("network.SecurityGroup.web")
	assert.True(t, ok)
	_, ok = store.Get("compute.LaunchTemplate.web")
	assert.False(t, ok)
}

func TestApplyPlan_EventualReadiness(t *testing.T) {
	eng, mem := newTestEngine(t)
	store := state.NewStore(nil)
	mem.InjectFault("lb.LoadBalancer.edge", &memory.Fault{ReadsUntilReady: 3})

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "lb.LoadBalancer", Name: "edge", Provider: "memory"},
		},
	}
	plan, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)

	_, err = eng.ApplyPlan(context.Background(), plan, store)
	require.NoError(t, err)
}

func TestApplyPlan_ReadinessTimeout(t *testing.T) {
	eng, mem := newTestEngine(t)
	eng.Retry = &RetryPolicy{MaxRetries: 0}
	store := state.NewStore(nil)
	mem.InjectFault("lb.LoadBalancer.edge", &memory.Fault{ReadsUntilReady: 1 << 30})

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "lb.LoadBalancer", Name: "edge", Provider: "memory", Timeout: "30ms"},
		},
	}
	plan, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)

	result, err := eng.ApplyPlan(context.Background(), plan, store)
	require.Error(t, err)
	assert.Equal(t, ir.OutcomeFailed, result.Statuses["lb.LoadBalancer.edge"].Outcome)
}

func TestApplyPlan_ReplaceCreatesNewBeforeDestroyingOld(t *testing.T) {
	eng, mem := newTestEngine(t)
	store := state.NewStore(nil)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "compute.Instance", Name: "web", Provider: "memory",
				Attributes: map[string]any{"subnet": "subnet-1"}},
		},
	}
	plan, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)
	_, err = eng.ApplyPlan(context.Background(), plan, store)
	require.NoError(t, err)

	before, _ := store.Get("compute.Instance.web")
	oldID := before.ID()

	cfg.Resources[0].Attributes["subnet"] = "subnet-2"
	plan, err = eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)
	require.Equal(t, ir.ActionReplace, plan.Changes[0].Action)

	_, err = eng.ApplyPlan(context.Background(), plan, store)
	require.NoError(t, err)

	after, _ := store.Get("compute.Instance.web")
	assert.NotEqual(t, oldID, after.ID())
	assert.False(t, mem.Live(oldID), "old instance should be destroyed")
	assert.True(t, mem.Live(after.ID()))
	assert.Equal(t, 1, mem.LiveCount("compute.Instance"))
}

func TestApplyPlan_StateUnaffectedByConfigMutation(t *testing.T) {
	eng, _ := newTestEngine(t)
	store := state.NewStore(nil)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "compute.Instance", Name: "web", Provider: "memory",
				Attributes: map[string]any{
					"subnet": "subnet-1",
					"tags":   map[string]any{"env": "dev"},
				}},
		},
	}
	plan, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)
	_, err = eng.ApplyPlan(context.Background(), plan, store)
	require.NoError(t, err)

	// Mutating the desired config must not reach into the stored record.
	cfg.Resources[0].Attributes["subnet"] = "subnet-2"
	cfg.Resources[0].Attributes["tags"].(map[string]any)["env"] = "prod"

	rec, ok := store.Get("compute.Instance.web")
	require.True(t, ok)
	assert.Equal(t, "subnet-1", rec.Inputs["subnet"])
	assert.Equal(t, "dev", rec.Inputs["tags"].(map[string]any)["env"])

	// So the next plan still sees the drift.
	plan, err = eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
}

func TestApplyPlan_ReplacementRewiresDependents(t *testing.T) {
	eng, mem := newTestEngine(t)
	store := state.NewStore(nil)
	cfg := webTierConfig()

	plan, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)
	_, err = eng.ApplyPlan(context.Background(), plan, store)
	require.NoError(t, err)

	oldTemplate, _ := store.Get("compute.LaunchTemplate.web")
	oldTemplateID := oldTemplate.ID()

	// ami is immutable: the template is replaced, and the instance holds a
	// ref to the template through its own immutable launchTemplate attribute.
	cfg.Resources[1].Attributes["ami"] = "ami-456"
	plan, err = eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Summary.Replace)

	_, err = eng.ApplyPlan(context.Background(), plan, store)
	require.NoError(t, err)

	newTemplate, _ := store.Get("compute.LaunchTemplate.web")
	require.NotEqual(t, oldTemplateID, newTemplate.ID())
	assert.False(t, mem.Live(oldTemplateID))

	instance, _ := store.Get("compute.Instance.web-0")
	assert.Equal(t, newTemplate.ID(), instance.Outputs["launchTemplate"],
		"dependent should point at the replacement's identity")

	again, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)
	assert.False(t, again.HasChanges(), "rewired tier should be converged")
}

func TestApplyPlan_ReadinessTimeoutIsRetried(t *testing.T) {
	eng, mem := newTestEngine(t)
	eng.Retry = &RetryPolicy{MaxRetries: 2}
	store := state.NewStore(nil)
	mem.InjectFault("lb.LoadBalancer.edge", &memory.Fault{ReadsUntilReady: 1 << 30})

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "lb.LoadBalancer", Name: "edge", Provider: "memory", Timeout: "20ms"},
		},
	}
	plan, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)

	_, err = eng.ApplyPlan(context.Background(), plan, store)
	require.Error(t, err)

	// Each attempt gets its own readiness deadline, so the whole retry
	// budget is consumed instead of the backoff dying on an expired context.
	var te *TimeoutError
	assert.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "max retries (2) exceeded")
	assert.NotContains(t, err.Error(), "retry cancelled")
}

func TestApplyPlan_DestroyBeforeCreateLifecycle(t *testing.T) {
	eng, mem := newTestEngine(t)
	store := state.NewStore(nil)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "compute.Instance", Name: "web", Provider: "memory",
				Attributes: map[string]any{"subnet": "subnet-1"},
				Lifecycle:  &ir.Lifecycle{DestroyBeforeCreate: true}},
		},
	}
	plan, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)
	_, err = eng.ApplyPlan(context.Background(), plan, store)
	require.NoError(t, err)

	before, _ := store.Get("compute.Instance.web")
	oldID := before.ID()

	cfg.Resources[0].Attributes["subnet"] = "subnet-2"
	plan, err = eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)
	_, err = eng.ApplyPlan(context.Background(), plan, store)
	require.NoError(t, err)

	after, _ := store.Get("compute.Instance.web")
	assert.NotEqual(t, oldID, after.ID())
	assert.False(t, mem.Live(oldID))
	assert.Equal(t, 1, mem.LiveCount("compute.Instance"))
}

func TestApplyPlan_DestroyOrderRespectsDependents(t *testing.T) {
	eng, _ := newTestEngine(t)
	store := state.NewStore(nil)

	cfg := webTierConfig()
	plan, err := eng.CreatePlan(context.Background(), cfg, store)
	require.NoError(t, err)
	_, err = eng.ApplyPlan(context.Background(), plan, store)
	require.NoError(t, err)

	// Empty config: everything is destroyed, dependents first.
	plan, err = eng.CreatePlan(context.Background(), &ir.Config{}, store)
	require.NoError(t, err)

	var mu sync.Mutex
	var completed []string
	callback := func(ev ApplyEvent) {
		if ev.Status == "completed" {
			mu.Lock()
			completed = append(completed, ev.Address)
			mu.Unlock()
		}
	}

	_, err = eng.ApplyPlanWithCallback(context.Background(), plan, store, callback)
	require.NoError(t, err)
	require.Len(t, completed, 3)

	posInstance := indexOf(completed, "compute.Instance.web-0")
	posTemplate := indexOf(completed, "compute.LaunchTemplate.web")
	posGroup := indexOf(completed, "network.SecurityGroup.web")
	assert.Less(t, posInstance, posTemplate, "instance should be destroyed before its template")
	assert.Less(t, posTemplate, posGroup, "template should be destroyed before its security group")

	assert.Empty(t, store.List())
}

func TestApplyPlan_CancelledContextSkipsEverything(t *testing.T) {
	eng, mem := newTestEngine(t)
	store := state.NewStore(nil)

	plan, err := eng.CreatePlan(context.Background(), webTierConfig(), store)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, _ := eng.ApplyPlan(ctx, plan, store)
	_, _, skipped := result.Counts()
	assert.Equal(t, 3, skipped)
	assert.Zero(t, mem.LiveCount("compute.Instance"))
}
