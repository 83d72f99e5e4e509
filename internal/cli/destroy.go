package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftwood-io/driftwood/internal/ir"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy all managed infrastructure",
	Long: `Destroys every resource recorded in state, in reverse dependency
order: dependents are removed before the resources they depend on.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.backend.Unlock()

	// An empty desired config turns every state record into a destroy.
	empty := &ir.Config{}
	plan, err := env.eng.CreatePlan(ctx, empty, env.store)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if !plan.HasChanges() {
		fmt.Println("Nothing to destroy.")
		return nil
	}

	fmt.Printf("Driftwood will destroy %d resources:\n", len(plan.Changes))
	renderPlanChanges(plan)

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resources...\n\n", len(plan.Changes))

	result, applyErr := env.eng.ApplyPlan(ctx, plan, env.store)
	renderApplyResult(result)

	if err := env.persist(ctx); err != nil {
		return err
	}

	succeeded, failed, skipped := result.Counts()
	if applyErr != nil || failed > 0 {
		return &exitError{
			code: ExitError,
			msg: fmt.Sprintf("destroy incomplete: %d succeeded, %d failed, %d skipped",
				succeeded, failed, skipped),
		}
	}

	fmt.Printf("\nDestroy complete! Resources: %d destroyed.\n", succeeded)
	return nil
}
