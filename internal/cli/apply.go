package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftwood-io/driftwood/internal/autoscaler"
)

var (
	applyAutoApprove bool
	applyTargets     []string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration",
	Long: `Builds or changes infrastructure according to the configuration.

Independent resources are applied in parallel; a failure halts only the
resources that depend on it, and everything that succeeded is recorded in
state.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().StringSliceVar(&applyTargets, "target", nil, "Limit the apply to specific resource addresses")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.backend.Unlock()

	plan, err := env.eng.CreatePlanWithTargets(ctx, env.file.Config(), env.store, applyTargets)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if !plan.HasChanges() {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return reconcileGroups(ctx, env)
	}

	fmt.Println("Driftwood will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n\n", len(plan.Changes))

	result, applyErr := env.eng.ApplyPlan(ctx, plan, env.store)
	renderApplyResult(result)

	// Persist whatever succeeded, even on partial failure.
	if err := env.persist(ctx); err != nil {
		return err
	}

	succeeded, failed, skipped := result.Counts()
	if applyErr != nil || failed > 0 {
		return &exitError{
			code: ExitError,
			msg: fmt.Sprintf("apply incomplete: %d succeeded, %d failed, %d skipped",
				succeeded, failed, skipped),
		}
	}

	fmt.Printf("\nApply complete! Resources: %d added, %d changed, %d destroyed.\n",
		plan.Summary.Create, plan.Summary.Update+plan.Summary.Replace, plan.Summary.Destroy)

	if err := reconcileGroups(ctx, env); err != nil {
		return err
	}

	outputs := env.file.Outputs
	if len(outputs) > 0 {
		fmt.Println("\nOutputs:")
		renderOutputs(outputs, env)
	}
	return nil
}

// reconcileGroups drives each scalable group's member count to its declared
// desired capacity. The same group manager the autoscaling controller uses
// performs the change, so the two writers never race.
func reconcileGroups(ctx context.Context, env *environment) error {
	if len(env.file.Groups) == 0 {
		return nil
	}

	manager := autoscaler.NewManager(env.eng, env.store)
	for _, group := range env.file.Groups {
		if err := manager.Register(group); err != nil {
			return err
		}
		current := len(group.Members)
		if current == group.DesiredCapacity {
			continue
		}
		fmt.Printf("\nGroup %s: adjusting capacity %d -> %d\n", group.Name, current, group.DesiredCapacity)
		result, err := manager.SetCapacity(ctx, group.Name, group.DesiredCapacity, nil)
		if result != nil {
			renderApplyResult(result)
		}
		if err != nil {
			return err
		}
	}
	return env.persist(ctx)
}
