package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftwood-io/driftwood/internal/autoscaler"
	"github.com/driftwood-io/driftwood/internal/ir"
	"github.com/driftwood-io/driftwood/internal/logging"
	awsprovider "github.com/driftwood-io/driftwood/providers/aws"
)

var scalePersistInterval time.Duration

var scaleCmd = &cobra.Command{
	Use:   "scale",
	Short: "Run the autoscaling controllers",
	Long: `Runs one target-tracking controller per scalable group with a
policy. Each controller periodically observes the group's metric, decides
a new member count, and adjusts capacity through the shared group manager.
Runs until interrupted.`,
	RunE: runScale,
}

func init() {
	scaleCmd.Flags().DurationVar(&scalePersistInterval, "persist-interval", time.Minute, "How often to snapshot state while running")
}

func runScale(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.backend.Unlock()

	manager := autoscaler.NewManager(env.eng, env.store)
	sources := &groupSources{
		metrics: make(map[string]autoscaler.MetricSource),
		health:  make(map[string]autoscaler.HealthSource),
	}

	registered := 0
	for _, group := range env.file.Groups {
		if group.Policy == nil {
			continue
		}
		if err := env.registry.Load(group.Provider); err != nil {
			return err
		}
		if err := manager.Register(group); err != nil {
			return err
		}
		if err := sources.bind(env, group); err != nil {
			return err
		}
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("no scalable groups with a policy in %s", configPath)
	}

	logging.Info("autoscaler starting", "groups", registered)

	// Capacity changes mutate state; snapshot periodically and on shutdown.
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(scalePersistInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := env.persist(ctx); err != nil {
					logging.Error("periodic state snapshot failed", "error", err)
				}
			}
		}
	}()

	runner := autoscaler.NewRunner(manager, sources, sources)
	err = runner.Run(ctx)
	close(done)

	if perr := env.persist(context.Background()); perr != nil && err == nil {
		err = perr
	}
	return err
}

// groupSources routes metric and health lookups to the source bound to each
// group, so groups on different providers can coexist in one daemon.
type groupSources struct {
	metrics map[string]autoscaler.MetricSource
	health  map[string]autoscaler.HealthSource
}

// bind wires a group to its provider's metric and health sources. Providers
// that implement the source interfaces directly (the memory provider) are
// used as-is; the aws provider gets CloudWatch and target-group adapters.
func (s *groupSources) bind(env *environment, group *ir.ScalableGroup) error {
	prov, err := env.registry.Get(group.Provider)
	if err != nil {
		return err
	}

	if m, ok := prov.(autoscaler.MetricSource); ok {
		s.metrics[group.Name] = m
	}
	if h, ok := prov.(autoscaler.HealthSource); ok {
		s.health[group.Name] = h
	}

	if awsProv, ok := prov.(*awsprovider.Provider); ok {
		interval := group.Policy.EvaluationInterval.Std()
		s.metrics[group.Name] = awsprovider.NewCloudWatchMetrics(awsProv, interval)

		if group.TargetGroup != "" {
			rec, ok := env.store.Get(group.TargetGroup)
			if !ok {
				return fmt.Errorf("group %s: target group %s not in state (apply first)",
					group.Name, group.TargetGroup)
			}
			s.health[group.Name] = awsprovider.NewTargetGroupHealth(awsProv, map[string]string{
				group.Name: rec.ID(),
			})
		}
	}

	if s.metrics[group.Name] == nil {
		return fmt.Errorf("group %s: provider %s offers no metric source", group.Name, group.Provider)
	}
	return nil
}

func (s *groupSources) Observe(ctx context.Context, group string, memberIDs []string) (float64, error) {
	m, ok := s.metrics[group]
	if !ok {
		return 0, &autoscaler.MetricUnavailableError{Group: group}
	}
	return m.Observe(ctx, group, memberIDs)
}

func (s *groupSources) Signals(ctx context.Context, group string) ([]ir.HealthSignal, error) {
	h, ok := s.health[group]
	if !ok {
		return nil, nil
	}
	return h.Signals(ctx, group)
}
