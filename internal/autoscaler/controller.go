package autoscaler

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/driftwood-io/driftwood/internal/ir"
	"github.com/driftwood-io/driftwood/internal/logging"
)

// Phase is the controller's position in its cycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseEvaluating Phase = "evaluating"
	PhaseScaling    Phase = "scaling"
	PhaseCooling    Phase = "cooling"
)

// Default cooldowns. Scale-out is deliberately shorter than scale-in so load
// spikes are answered quickly while shrink decisions stay conservative.
const (
	DefaultEvaluationInterval = 60 * time.Second
	DefaultScaleOutCooldown   = 60 * time.Second
	DefaultScaleInCooldown    = 5 * time.Minute
)

// Controller runs the target-tracking loop for one scalable group. It is a
// long-lived task decoupled from user-initiated reconciliation; all capacity
// writes go through the shared Manager.
type Controller struct {
	manager *Manager
	metrics MetricSource
	health  HealthSource
	group   string

	// now is swappable for tests.
	now func() time.Time

	mu           sync.Mutex
	phase        Phase
	lastScaleOut time.Time
	lastScaleIn  time.Time
}

func NewController(manager *Manager, metrics MetricSource, health HealthSource, group string) *Controller {
	return &Controller{
		manager: manager,
		metrics: metrics,
		health:  health,
		group:   group,
		now:     time.Now,
		phase:   PhaseIdle,
	}
}

// Phase returns the controller's current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Run evaluates on a fixed interval until the context is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	group, ok := c.manager.Group(c.group)
	if !ok || group.Policy == nil {
		logging.Warn("no target-tracking policy; controller not started", "group", c.group)
		return nil
	}

	interval := group.Policy.EvaluationInterval.Std()
	if interval <= 0 {
		interval = DefaultEvaluationInterval
	}

	logging.Info("autoscaling controller started",
		"group", c.group,
		"metric", group.Policy.Metric,
		"target", group.Policy.TargetValue,
		"interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("autoscaling controller stopped", "group", c.group)
			return ctx.Err()
		case <-ticker.C:
			if err := c.evaluate(ctx); err != nil {
				logging.Error("evaluation cycle failed", "group", c.group, "error", err)
			}
		}
	}
}

// evaluate runs one Evaluating -> Scaling -> Cooling cycle. A missing metric
// is fail-safe: capacity is held and the error is logged, never raised.
func (c *Controller) evaluate(ctx context.Context) error {
	c.setPhase(PhaseEvaluating)
	defer c.setPhase(PhaseIdle)

	group, ok := c.manager.Group(c.group)
	if !ok {
		return nil
	}
	now := c.now()

	healthByID := c.memberHealth(ctx)
	eligible := eligibleMembers(group, healthByID, now)
	if len(eligible) == 0 {
		logging.Debug("no eligible members this interval", "group", c.group)
		return nil
	}

	ids := make([]string, len(eligible))
	for i, m := range eligible {
		ids[i] = m.ID
	}

	observed, err := c.metrics.Observe(ctx, c.group, ids)
	if err != nil {
		// Never scale on missing data.
		logging.Warn("metric unavailable; holding capacity",
			"group", c.group, "error", err)
		return nil
	}

	current := group.DesiredCapacity
	desired := group.Clamp(DecideCapacity(current, observed, group.Policy.TargetValue))
	if desired == current {
		return nil
	}

	if !c.cooldownElapsed(group.Policy, desired > current, now) {
		logging.Debug("cooldown active; deferring capacity change",
			"group", c.group, "current", current, "desired", desired)
		return nil
	}

	c.setPhase(PhaseScaling)
	logging.Info("scaling decision",
		"group", c.group,
		"observed", observed,
		"target", group.Policy.TargetValue,
		"current", current,
		"desired", desired)

	if _, err := c.manager.SetCapacity(ctx, c.group, desired, healthByID); err != nil {
		return err
	}

	c.mu.Lock()
	if desired > current {
		c.lastScaleOut = now
	} else {
		c.lastScaleIn = now
	}
	c.phase = PhaseCooling
	c.mu.Unlock()
	return nil
}

// memberHealth collects load-balancer health signals. A failing health
// source degrades to "no information" rather than blocking evaluation.
func (c *Controller) memberHealth(ctx context.Context) map[string]bool {
	if c.health == nil {
		return nil
	}
	signals, err := c.health.Signals(ctx, c.group)
	if err != nil {
		logging.Warn("health source unavailable", "group", c.group, "error", err)
		return nil
	}
	out := make(map[string]bool, len(signals))
	for _, s := range signals {
		out[s.MemberID] = s.Healthy
	}
	return out
}

// eligibleMembers filters to healthy members whose grace period has elapsed,
// so cold-start skew never drags the average down.
func eligibleMembers(group *ir.ScalableGroup, health map[string]bool, now time.Time) []*ir.Member {
	grace := group.HealthCheckGracePeriod.Std()
	var out []*ir.Member
	for _, m := range group.Members {
		if m.InGracePeriod(grace, now) {
			continue
		}
		if health != nil {
			if healthy, known := health[m.ID]; known && !healthy {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// DecideCapacity computes ceil(current * observed/target). Clamping to group
// bounds is the caller's job.
func DecideCapacity(current int, observed, target float64) int {
	if current <= 0 || target <= 0 {
		return current
	}
	return int(math.Ceil(float64(current) * observed / target))
}

// cooldownElapsed enforces the per-direction minimum interval between
// consecutive capacity changes.
func (c *Controller) cooldownElapsed(policy *ir.TargetTrackingPolicy, scaleOut bool, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if scaleOut {
		cd := policy.ScaleOutCooldown.Std()
		if cd <= 0 {
			cd = DefaultScaleOutCooldown
		}
		return c.lastScaleOut.IsZero() || now.Sub(c.lastScaleOut) >= cd
	}
	cd := policy.ScaleInCooldown.Std()
	if cd <= 0 {
		cd = DefaultScaleInCooldown
	}
	return c.lastScaleIn.IsZero() || now.Sub(c.lastScaleIn) >= cd
}
