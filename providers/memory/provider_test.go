package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwood-io/driftwood/internal/provider"
)

func TestProvider_CreateReadUpdateDelete(t *testing.T) {
	p := New()
	ctx := context.Background()

	created, err := p.Create(ctx, &provider.CreateRequest{
		Type:       "compute.Instance",
		Name:       "web",
		Attributes: map[string]any{"subnet": "subnet-1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, created.ID, created.Outputs["id"])
	assert.True(t, p.Live(created.ID))

	read, err := p.Read(ctx, &provider.ReadRequest{Type: "compute.Instance", ID: created.ID})
	require.NoError(t, err)
	assert.True(t, read.Exists)
	assert.True(t, read.Ready)
	assert.Equal(t, "subnet-1", read.Outputs["subnet"])

	updated, err := p.Update(ctx, &provider.UpdateRequest{
		Type:       "compute.Instance",
		Name:       "web",
		ID:         created.ID,
		Attributes: map[string]any{"subnet": "subnet-1", "tags": "v2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Outputs["tags"])

	require.NoError(t, p.Delete(ctx, &provider.DeleteRequest{Type: "compute.Instance", ID: created.ID}))
	assert.False(t, p.Live(created.ID))

	read, err = p.Read(ctx, &provider.ReadRequest{Type: "compute.Instance", ID: created.ID})
	require.NoError(t, err)
	assert.False(t, read.Exists)
}

func TestProvider_DeleteIsIdempotent(t *testing.T) {
	p := New()
	err := p.Delete(context.Background(), &provider.DeleteRequest{Type: "compute.Instance", ID: "mem-gone-0001"})
	assert.NoError(t, err)
}

func TestProvider_SchemaImmutability(t *testing.T) {
	p := New()

	schema, err := p.Schema("compute.Instance")
	require.NoError(t, err)
	assert.True(t, schema.ForcesReplacement("subnet"))
	assert.True(t, schema.ForcesReplacement("launchTemplate"))
	assert.False(t, schema.ForcesReplacement("tags"))

	// Unknown types have no immutable attributes.
	schema, err = p.Schema("custom.Widget")
	require.NoError(t, err)
	assert.False(t, schema.ForcesReplacement("anything"))
}

func TestProvider_TransientFaultInjection(t *testing.T) {
	p := New()
	p.InjectFault("compute.Instance.web", &Fault{TransientCreates: 2})
	ctx := context.Background()

	req := &provider.CreateRequest{Type: "compute.Instance", Name: "web"}

	_, err := p.Create(ctx, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")

	_, err = p.Create(ctx, req)
	require.Error(t, err)

	created, err := p.Create(ctx, req)
	require.NoError(t, err)
	assert.True(t, p.Live(created.ID))
}

func TestProvider_EventualReadiness(t *testing.T) {
	p := New()
	p.InjectFault("lb.LoadBalancer.edge", &Fault{ReadsUntilReady: 2})
	ctx := context.Background()

	created, err := p.Create(ctx, &provider.CreateRequest{Type: "lb.LoadBalancer", Name: "edge"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		read, err := p.Read(ctx, &provider.ReadRequest{Type: "lb.LoadBalancer", ID: created.ID})
		require.NoError(t, err)
		assert.True(t, read.Exists)
		assert.False(t, read.Ready, "read %d should not be ready yet", i)
	}

	read, err := p.Read(ctx, &provider.ReadRequest{Type: "lb.LoadBalancer", ID: created.ID})
	require.NoError(t, err)
	assert.True(t, read.Ready)
}

func TestProvider_MetricAndHealthSources(t *testing.T) {
	p := New()
	ctx := context.Background()

	_, err := p.Observe(ctx, "web", nil)
	require.Error(t, err, "unset metric is unavailable")

	p.SetMetric("web", 42.5)
	v, err := p.Observe(ctx, "web", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 42.5, v)

	signals, err := p.Signals(ctx, "web")
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestProvider_PerMemberMetricsAveraged(t *testing.T) {
	p := New()
	ctx := context.Background()

	p.SetMetric("web", 99) // ignored once member datapoints exist
	p.SetMemberMetric("web", "a", 30)
	p.SetMemberMetric("web", "b", 60)

	v, err := p.Observe(ctx, "web", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 45.0, v)

	// Only the requested members are sampled.
	v, err = p.Observe(ctx, "web", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 30.0, v)

	_, err = p.Observe(ctx, "web", []string{"unknown"})
	require.Error(t, err, "no datapoints for the requested members")
}
