package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the wheelhouse-etl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wheelhouse-etl",
		Short:         "Daily Wheelhouse listing metrics extraction",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newETLCmd())
	return root
}

// Execute runs the CLI with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
