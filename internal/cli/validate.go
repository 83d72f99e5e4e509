package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftwood-io/driftwood/internal/config"
	"github.com/driftwood-io/driftwood/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Checks the configuration for structural problems without touching
state or providers: duplicate addresses, unknown references, dependency
cycles, and invalid group bounds or policies.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	file, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if _, err := engine.BuildDAG(file.Resources); err != nil {
		return err
	}

	fmt.Printf("Configuration is valid: %d resources, %d groups.\n",
		len(file.Resources), len(file.Groups))
	return nil
}
