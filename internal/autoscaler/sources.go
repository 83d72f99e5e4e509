package autoscaler

import (
	"context"
	"fmt"

	"github.com/driftwood-io/driftwood/internal/ir"
)

// MetricSource supplies the average value of a scaling metric across the
// given members for one evaluation interval.
type MetricSource interface {
	Observe(ctx context.Context, group string, memberIDs []string) (float64, error)
}

// HealthSource supplies per-member health signals from the load-balancing
// layer. Consumed read-only.
type HealthSource interface {
	Signals(ctx context.Context, group string) ([]ir.HealthSignal, error)
}

// MetricUnavailableError means the metric could not be read this interval.
// Non-fatal: the controller logs it, holds capacity, and retries next tick.
type MetricUnavailableError struct {
	Group string
	Err   error
}

func (e *MetricUnavailableError) Error() string {
	return fmt.Sprintf("metric unavailable for group %s: %v", e.Group, e.Err)
}

func (e *MetricUnavailableError) Unwrap() error { return e.Err }
