package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftwood-io/driftwood/internal/config"
	"github.com/driftwood-io/driftwood/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the dependency graph in DOT format",
	Long: `Prints the resource dependency graph in Graphviz DOT format.
Pipe it through dot to render:

  driftwood graph | dot -Tsvg > graph.svg`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	file, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dag, err := engine.BuildDAG(file.Resources)
	if err != nil {
		return err
	}

	fmt.Println("digraph driftwood {")
	fmt.Println("  rankdir = \"BT\";")
	for _, addr := range dag.CreationOrder() {
		fmt.Printf("  %q;\n", addr)
		for _, dep := range dag.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}
	for _, group := range file.Groups {
		fmt.Printf("  %q [shape=box3d];\n", "group."+group.Name)
		if group.LaunchTemplate != "" {
			fmt.Printf("  %q -> %q;\n", "group."+group.Name, group.LaunchTemplate)
		}
	}
	fmt.Println("}")
	return nil
}
