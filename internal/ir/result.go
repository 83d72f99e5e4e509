package ir

import "time"

// ResourceOutcome is the terminal status of one plan item.
type ResourceOutcome string

const (
	OutcomeSucceeded ResourceOutcome = "succeeded"
	OutcomeFailed    ResourceOutcome = "failed"
	// OutcomeSkipped marks resources not attempted because an ancestor failed.
	OutcomeSkipped ResourceOutcome = "skipped"
)

// ApplyResult enumerates what happened to every resource in an apply,
// including resources skipped because a dependency failed.
type ApplyResult struct {
	Statuses map[string]*ResourceStatus
}

type ResourceStatus struct {
	Address  string
	Action   Action
	Outcome  ResourceOutcome
	Duration time.Duration
	Err      error
}

func NewApplyResult() *ApplyResult {
	return &ApplyResult{Statuses: make(map[string]*ResourceStatus)}
}

// Record sets the terminal status for an address.
func (r *ApplyResult) Record(addr string, action Action, outcome ResourceOutcome, d time.Duration, err error) {
	r.Statuses[addr] = &ResourceStatus{
		Address:  addr,
		Action:   action,
		Outcome:  outcome,
		Duration: d,
		Err:      err,
	}
}

// Counts returns the number of succeeded, failed, and skipped resources.
func (r *ApplyResult) Counts() (succeeded, failed, skipped int) {
	for _, s := range r.Statuses {
		switch s.Outcome {
		case OutcomeSucceeded:
			succeeded++
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}
	return
}

// Failed reports whether any resource failed or was skipped.
func (r *ApplyResult) Failed() bool {
	_, failed, skipped := r.Counts()
	return failed > 0 || skipped > 0
}
