package ir

import (
	"fmt"
	"time"
)

// ScalableGroup describes an elastic set of members stamped out from a
// launch template resource. Structural fields (template, bounds) are owned
// by the reconciler; DesiredCapacity is additionally writable by the
// autoscaling controller through the group manager.
type ScalableGroup struct {
	Name           string `yaml:"name" json:"name"`
	Provider       string `yaml:"provider" json:"provider"`
	LaunchTemplate string `yaml:"launchTemplate" json:"launchTemplate"` // address of the template resource
	MemberType     string `yaml:"memberType" json:"memberType"`         // resource type stamped per member
	// TargetGroup optionally names the target group resource whose health
	// checks feed the autoscaling controller.
	TargetGroup            string   `yaml:"targetGroup,omitempty" json:"targetGroup,omitempty"`
	MinSize                int      `yaml:"minSize" json:"minSize"`
	MaxSize                int      `yaml:"maxSize" json:"maxSize"`
	DesiredCapacity        int      `yaml:"desiredCapacity" json:"desiredCapacity"`
	HealthCheckGracePeriod Duration `yaml:"healthCheckGracePeriod" json:"healthCheckGracePeriod"`

	Policy *TargetTrackingPolicy `yaml:"policy,omitempty" json:"policy,omitempty"`

	// Members is ordered by launch time; maintained by the group manager.
	Members []*Member `yaml:"-" json:"members,omitempty"`
}

// Validate enforces min <= desired <= max and a usable policy.
func (g *ScalableGroup) Validate() error {
	if g.MinSize < 0 || g.MaxSize < g.MinSize {
		return fmt.Errorf("group %s: invalid bounds [%d, %d]", g.Name, g.MinSize, g.MaxSize)
	}
	if g.DesiredCapacity < g.MinSize || g.DesiredCapacity > g.MaxSize {
		return fmt.Errorf("group %s: desired capacity %d outside [%d, %d]",
			g.Name, g.DesiredCapacity, g.MinSize, g.MaxSize)
	}
	if g.Policy != nil {
		if err := g.Policy.Validate(); err != nil {
			return fmt.Errorf("group %s: %w", g.Name, err)
		}
	}
	return nil
}

// Clamp bounds n to [MinSize, MaxSize].
func (g *ScalableGroup) Clamp(n int) int {
	if n < g.MinSize {
		return g.MinSize
	}
	if n > g.MaxSize {
		return g.MaxSize
	}
	return n
}

// Member is one launched unit of a scalable group.
type Member struct {
	ID         string    `json:"id"` // resource name of the member instance
	LaunchedAt time.Time `json:"launchedAt"`
}

// InGracePeriod reports whether the member is still within the group's
// health check grace period at time now.
func (m *Member) InGracePeriod(grace time.Duration, now time.Time) bool {
	return now.Sub(m.LaunchedAt) < grace
}

// MetricKind enumerates supported scaling metrics.
type MetricKind string

const (
	MetricCPUUtilization MetricKind = "cpu_utilization"
	MetricRequestCount   MetricKind = "request_count_per_member"
)

// TargetTrackingPolicy adjusts group capacity to keep a metric near a target.
// One policy per group.
type TargetTrackingPolicy struct {
	Metric             MetricKind `yaml:"metric" json:"metric"`
	TargetValue        float64    `yaml:"targetValue" json:"targetValue"`
	EvaluationInterval Duration   `yaml:"evaluationInterval" json:"evaluationInterval"`
	// Scale-out cooldown is deliberately shorter than scale-in: under load
	// spikes availability wins over cost.
	ScaleOutCooldown Duration `yaml:"scaleOutCooldown" json:"scaleOutCooldown"`
	ScaleInCooldown  Duration `yaml:"scaleInCooldown" json:"scaleInCooldown"`
}

func (p *TargetTrackingPolicy) Validate() error {
	if p.TargetValue <= 0 {
		return fmt.Errorf("policy target value must be > 0, got %g", p.TargetValue)
	}
	switch p.Metric {
	case MetricCPUUtilization, MetricRequestCount:
	default:
		return fmt.Errorf("unknown metric %q", p.Metric)
	}
	return nil
}

// HealthSource enumerates where a health signal came from.
type HealthSource string

const (
	HealthSourceLoadBalancer  HealthSource = "load-balancer"
	HealthSourceInstanceProbe HealthSource = "instance-probe"
)

// HealthSignal is a transient per-member health observation. Not persisted.
type HealthSignal struct {
	MemberID string
	Healthy  bool
	Source   HealthSource
}

// Duration wraps time.Duration with yaml/json string parsing ("30s", "5m").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.String())), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}
