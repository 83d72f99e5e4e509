package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	planOutFile      string
	planDetailedExit bool
	planTargets      []string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate an execution plan",
	Long: `Generates an execution plan showing what actions driftwood will take
to reach the desired state defined in your configuration.

The plan shows:
  • Resources to be created
  • Resources to be updated (with attribute diff)
  • Resources to be replaced (immutable attribute changed)
  • Resources to be destroyed`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write the plan as JSON to a file")
	planCmd.Flags().BoolVar(&planDetailedExit, "detailed-exitcode", false, "Exit 3 when the plan contains changes")
	planCmd.Flags().StringSliceVar(&planTargets, "target", nil, "Limit planning to specific resource addresses")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.backend.Unlock()

	plan, err := env.eng.CreatePlanWithTargets(ctx, env.file.Config(), env.store, planTargets)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	renderPlanSummary(plan)
	if plan.HasChanges() {
		fmt.Println("\nDriftwood will perform the following actions:")
		renderPlanChanges(plan)
	} else {
		fmt.Println("\nNo changes. Infrastructure is up-to-date.")
	}

	if planOutFile != "" {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to serialize plan: %w", err)
		}
		if err := os.WriteFile(planOutFile, data, 0644); err != nil {
			return fmt.Errorf("failed to write plan file: %w", err)
		}
		fmt.Printf("\nPlan written to %s\n", planOutFile)
	}

	if planDetailedExit && plan.HasChanges() {
		return &exitError{code: ExitChangesPending}
	}
	return nil
}
