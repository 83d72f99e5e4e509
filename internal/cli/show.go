package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/driftwood-io/driftwood/internal/engine"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current state",
	RunE:  runShow,
}

var outputCmd = &cobra.Command{
	Use:   "output [name]",
	Short: "Show output values from the configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOutput,
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.backend.Unlock()

	records := env.store.List()
	if len(records) == 0 {
		fmt.Println("State is empty.")
		return nil
	}

	snapshot := env.store.Snapshot()
	fmt.Printf("State serial %d, lineage %s\n", snapshot.Serial, snapshot.Lineage)

	for _, rec := range records {
		fmt.Printf("\nresource %q %q {\n", rec.Type, rec.Name)
		fmt.Printf("    provider  = %q\n", rec.Provider)
		fmt.Printf("    id        = %q\n", rec.ID())
		fmt.Printf("    appliedAt = %s\n", rec.AppliedAt.Format("2006-01-02T15:04:05Z07:00"))
		if len(rec.Dependencies) > 0 {
			fmt.Printf("    dependsOn = %v\n", rec.Dependencies)
		}
		for k, v := range rec.Outputs {
			if k == "id" {
				continue
			}
			fmt.Printf("    %s = %v\n", k, formatValue(v))
		}
		fmt.Println("}")
	}
	return nil
}

func runOutput(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.backend.Unlock()

	outputs := env.file.Outputs
	if len(outputs) == 0 {
		fmt.Println("No outputs defined.")
		return nil
	}

	if len(args) == 1 {
		v, ok := outputs[args[0]]
		if !ok {
			return fmt.Errorf("output %q not defined", args[0])
		}
		fmt.Println(formatValue(resolveOutput(v, env)))
		return nil
	}

	renderOutputs(outputs, env)
	return nil
}

// renderOutputs prints outputs with ref:// values resolved from state.
func renderOutputs(outputs map[string]any, env *environment) {
	for _, k := range sortedKeys(outputs) {
		fmt.Printf("  %s = %v\n", k, formatValue(resolveOutput(outputs[k], env)))
	}
}

// resolveOutput substitutes a ref:// output value with the recorded
// attribute it points at; unresolvable refs pass through verbatim.
func resolveOutput(v any, env *environment) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	addr, attr := engine.SplitRef(s)
	if addr == "" {
		return v
	}
	if resolved, ok := env.store.Resolve(addr, attr); ok {
		return resolved
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
