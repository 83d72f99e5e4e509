package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/driftwood-io/driftwood/internal/ir"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

func actionSymbol(action ir.Action) string {
	switch action {
	case ir.ActionCreate:
		return "+"
	case ir.ActionDestroy:
		return "-"
	case ir.ActionReplace:
		return "-/+"
	case ir.ActionNoOp:
		return " "
	default:
		return "~"
	}
}

func actionColor(action ir.Action) string {
	switch action {
	case ir.ActionCreate:
		return colorGreen
	case ir.ActionDestroy:
		return colorRed
	case ir.ActionUpdate, ir.ActionReplace:
		return colorYellow
	default:
		return colorReset
	}
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		color := actionColor(change.Action)
		symbol := actionSymbol(change.Action)

		var resourceType, resourceName string
		if change.Desired != nil {
			resourceType = change.Desired.Type
			resourceName = change.Desired.Name
		} else if change.Prior != nil {
			resourceType = change.Prior.Type
			resourceName = change.Prior.Name
		}

		fmt.Printf("\n%s  # %s will be %s%s\n", color, change.Address, change.Action, colorReset)
		fmt.Printf("%s  %s resource \"%s\" \"%s\" {\n", color, symbol, resourceType, resourceName)

		if len(change.Diff) > 0 {
			renderAttributeDiff(change.Diff)
		} else {
			fmt.Printf("%s      ...\n", color)
		}
		fmt.Printf("%s    }%s\n", color, colorReset)
	}
}

// renderAttributeDiff prints structured attribute diffs in stable order.
func renderAttributeDiff(diff map[string]*ir.AttributeDiff) {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		d := diff[key]
		switch d.Action {
		case "create":
			fmt.Printf("%s      + %s = %v%s\n", colorGreen, key, formatValue(d.After), colorReset)
		case "delete":
			fmt.Printf("%s      - %s = %v%s\n", colorRed, key, formatValue(d.Before), colorReset)
		case "update":
			suffix := ""
			if d.ForcesReplacement {
				suffix = " # forces replacement"
			}
			fmt.Printf("%s      ~ %s = %v -> %v%s%s\n", colorYellow, key, formatValue(d.Before), formatValue(d.After), suffix, colorReset)
		default:
			fmt.Printf("        %s = %v\n", key, formatValue(d.After))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Destroy: %d\n", plan.Summary.Destroy)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// renderApplyResult prints per-resource outcomes after an apply, failures
// and skips first.
func renderApplyResult(result *ir.ApplyResult) {
	statuses := make([]*ir.ResourceStatus, 0, len(result.Statuses))
	for _, s := range result.Statuses {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Outcome != statuses[j].Outcome {
			return statuses[i].Outcome < statuses[j].Outcome
		}
		return statuses[i].Address < statuses[j].Address
	})

	for _, s := range statuses {
		switch s.Outcome {
		case ir.OutcomeFailed:
			fmt.Printf("%s  ✗ %s (%s): %v%s\n", colorRed, s.Address, s.Action, s.Err, colorReset)
		case ir.OutcomeSkipped:
			fmt.Printf("%s  ⊘ %s (%s): skipped, dependency failed%s\n", colorYellow, s.Address, s.Action, colorReset)
		default:
			fmt.Printf("%s  ✓ %s (%s) in %s%s\n", colorGreen, s.Address, s.Action, s.Duration.Round(time.Millisecond), colorReset)
		}
	}
}
