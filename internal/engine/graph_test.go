package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwood-io/driftwood/internal/ir"
)

func indexOf(slice []string, s string) int {
	for i, v := range slice {
		if v == s {
			return i
		}
	}
	return -1
}

func TestBuildDAG_NoDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "compute.Instance", Name: "a", Provider: "memory"},
		{Type: "compute.Instance", Name: "b", Provider: "memory"},
		{Type: "compute.Instance", Name: "c", Provider: "memory"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	assert.Len(t, order, 3)
}

func TestBuildDAG_ExplicitDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "compute.Instance", Name: "a", Provider: "memory", DependsOn: []string{"compute.Instance.b"}},
		{Type: "compute.Instance", Name: "b", Provider: "memory"},
		{Type: "compute.Instance", Name: "c", Provider: "memory", DependsOn: []string{"compute.Instance.a"}},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 3)

	posB := indexOf(order, "compute.Instance.b")
	posA := indexOf(order, "compute.Instance.a")
	posC := indexOf(order, "compute.Instance.c")

	assert.Less(t, posB, posA, "b should come before a")
	assert.Less(t, posA, posC, "a should come before c")
}

func TestBuildDAG_ImplicitRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "compute.Instance",
			Name:     "web",
			Provider: "memory",
			Attributes: map[string]any{
				"launchTemplate": "ref://compute.LaunchTemplate.base/id",
			},
		},
		{Type: "compute.LaunchTemplate", Name: "base", Provider: "memory"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	assert.Less(t, indexOf(order, "compute.LaunchTemplate.base"), indexOf(order, "compute.Instance.web"))
}

func TestBuildDAG_RefNestedInCollections(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "lb.LoadBalancer",
			Name:     "edge",
			Provider: "memory",
			Attributes: map[string]any{
				"listeners": []any{
					map[string]any{"targetGroup": "ref://lb.TargetGroup.web/id"},
				},
			},
		},
		{Type: "lb.TargetGroup", Name: "web", Provider: "memory"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	assert.Less(t, indexOf(order, "lb.TargetGroup.web"), indexOf(order, "lb.LoadBalancer.edge"))
}

func TestBuildDAG_CycleNamesMembers(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "t", Name: "a", Provider: "memory", DependsOn: []string{"t.b"}},
		{Type: "t", Name: "b", Provider: "memory", DependsOn: []string{"t.a"}},
	}

	_, err := BuildDAG(resources)
	require.Error(t, err)

	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Contains(t, cycle.Members, "t.a")
	assert.Contains(t, cycle.Members, "t.b")
	assert.Contains(t, err.Error(), "dependency cycle detected")
}

func TestBuildDAG_SelfReferenceIgnored(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "t",
			Name:     "a",
			Provider: "memory",
			Attributes: map[string]any{
				"self": "ref://t.a/id",
			},
		},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)
	assert.Equal(t, []string{"t.a"}, dag.CreationOrder())
}

func TestBuildDAG_Deterministic(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "t", Name: "c", Provider: "memory"},
		{Type: "t", Name: "a", Provider: "memory"},
		{Type: "t", Name: "b", Provider: "memory"},
	}

	first, err := BuildDAG(resources)
	require.NoError(t, err)

	// Independent resources keep input order, run after run.
	for i := 0; i < 10; i++ {
		dag, err := BuildDAG(resources)
		require.NoError(t, err)
		assert.Equal(t, first.CreationOrder(), dag.CreationOrder())
	}
	assert.Equal(t, []string{"t.c", "t.a", "t.b"}, first.CreationOrder())
}

func TestDestructionOrder_IsReverseOfCreation(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "t", Name: "leaf", Provider: "memory", DependsOn: []string{"t.mid"}},
		{Type: "t", Name: "mid", Provider: "memory", DependsOn: []string{"t.root"}},
		{Type: "t", Name: "root", Provider: "memory"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	assert.Equal(t, []string{"t.root", "t.mid", "t.leaf"}, dag.CreationOrder())
	assert.Equal(t, []string{"t.leaf", "t.mid", "t.root"}, dag.DestructionOrder())
}

func TestSubgraph_IncludesTransitiveDeps(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "t", Name: "a", Provider: "memory"},
		{Type: "t", Name: "b", Provider: "memory", DependsOn: []string{"t.a"}},
		{Type: "t", Name: "c", Provider: "memory", DependsOn: []string{"t.b"}},
		{Type: "t", Name: "unrelated", Provider: "memory"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	set := dag.Subgraph([]string{"t.c"})
	assert.True(t, set["t.c"])
	assert.True(t, set["t.b"])
	assert.True(t, set["t.a"])
	assert.False(t, set["t.unrelated"])
}

func TestBuildDAGFromState_OrdersDestroys(t *testing.T) {
	records := []*ir.ResourceState{
		{Type: "t", Name: "child", Dependencies: []string{"t.parent"}},
		{Type: "t", Name: "parent"},
	}

	dag, err := BuildDAGFromState(records)
	require.NoError(t, err)

	order := dag.DestructionOrder()
	assert.Less(t, indexOf(order, "t.child"), indexOf(order, "t.parent"))
}

func TestSplitRef(t *testing.T) {
	addr, attr := SplitRef("ref://compute.Instance.web/id")
	assert.Equal(t, "compute.Instance.web", addr)
	assert.Equal(t, "id", attr)

	addr, attr = SplitRef("ref://lb.LoadBalancer.edge/dnsName")
	assert.Equal(t, "lb.LoadBalancer.edge", addr)
	assert.Equal(t, "dnsName", attr)

	addr, _ = SplitRef("not-a-ref")
	assert.Empty(t, addr)

	addr, _ = SplitRef("ref://missing-attribute")
	assert.Empty(t, addr)
}

func TestExtractRefs(t *testing.T) {
	attrs := map[string]any{
		"plain": "value",
		"ref":   "ref://t.a/id",
		"list":  []any{"ref://t.b/id", 42},
		"nested": map[string]any{
			"deep": "ref://t.c/id",
		},
	}

	refs := ExtractRefs(attrs)
	assert.ElementsMatch(t, []string{"ref://t.a/id", "ref://t.b/id", "ref://t.c/id"}, refs)
}
