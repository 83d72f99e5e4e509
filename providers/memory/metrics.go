package memory

import (
	"context"
	"fmt"

	"github.com/driftwood-io/driftwood/internal/ir"
)

// SetMetric fixes the observed metric value for a group. Until a value is
// set, Observe reports the metric as unavailable, mirroring a cold
// CloudWatch namespace.
func (p *Provider) SetMetric(group string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.metrics == nil {
		p.metrics = make(map[string]float64)
	}
	p.metrics[group] = value
}

// SetMemberMetric fixes the observed value for one member of a group. Once
// any member values exist for a group, Observe averages over the member ids
// it is asked about, mirroring per-instance CloudWatch datapoints; the
// group-level value from SetMetric is ignored.
func (p *Provider) SetMemberMetric(group, memberID string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.memberMetrics == nil {
		p.memberMetrics = make(map[string]map[string]float64)
	}
	if p.memberMetrics[group] == nil {
		p.memberMetrics[group] = make(map[string]float64)
	}
	p.memberMetrics[group][memberID] = value
}

// Observe returns the metric value for a group, averaged over the requested
// members when per-member values are configured.
func (p *Provider) Observe(ctx context.Context, group string, memberIDs []string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if members := p.memberMetrics[group]; len(members) > 0 {
		var sum float64
		n := 0
		for _, id := range memberIDs {
			if v, ok := members[id]; ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			return 0, fmt.Errorf("no datapoints for group %s members", group)
		}
		return sum / float64(n), nil
	}

	v, ok := p.metrics[group]
	if !ok {
		return 0, fmt.Errorf("no metric configured for group %s", group)
	}
	return v, nil
}

// SetHealth fixes the health signals reported for a group.
func (p *Provider) SetHealth(group string, signals []ir.HealthSignal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.health == nil {
		p.health = make(map[string][]ir.HealthSignal)
	}
	p.health[group] = signals
}

// Signals returns the configured health signals for a group.
func (p *Provider) Signals(ctx context.Context, group string) ([]ir.HealthSignal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health[group], nil
}
