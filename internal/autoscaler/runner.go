package autoscaler

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Runner supervises one controller per scalable group.
type Runner struct {
	controllers []*Controller
}

func NewRunner(manager *Manager, metrics MetricSource, health HealthSource) *Runner {
	r := &Runner{}
	for _, group := range manager.Groups() {
		if group.Policy == nil {
			continue
		}
		r.controllers = append(r.controllers, NewController(manager, metrics, health, group.Name))
	}
	return r
}

// Run blocks until the context is cancelled or a controller fails.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range r.controllers {
		g.Go(func() error {
			return c.Run(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
