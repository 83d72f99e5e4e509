// Package cli implements the driftwood command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftwood-io/driftwood/internal/engine"
	"github.com/driftwood-io/driftwood/internal/logging"
)

// Exit codes.
const (
	ExitOK             = 0
	ExitError          = 1
	ExitConfigError    = 2
	ExitChangesPending = 3 // plan --detailed-exitcode with a non-empty plan
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "driftwood",
	Short: "Declarative infrastructure reconciliation with target-tracking autoscaling",
	Long: `Driftwood reconciles declared resources against their last-applied state:
it plans the minimal set of create/update/replace/destroy actions, applies
them in dependency order with bounded parallelism, and keeps a durable
state record.

Scalable groups get a target-tracking controller that adjusts member count
to hold a metric near its target, with grace periods and asymmetric
cooldowns.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// exitError carries a specific process exit code up through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// ExecuteContext runs the command tree and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
		}
		return ee.code
	}

	fmt.Fprintln(os.Stderr, "Error:", err)

	var ce *engine.ConfigError
	var cy *engine.CycleError
	if errors.As(err, &ce) || errors.As(err, &cy) {
		return ExitConfigError
	}
	return ExitError
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "driftwood.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(scaleCmd)
	rootCmd.AddCommand(versionCmd)
}
