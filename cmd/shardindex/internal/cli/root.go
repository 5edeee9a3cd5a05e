// Package cli wires the shardindex binary's cobra command tree. Flags
// bind directly into plain Config structs passed to the internal
// packages — there is no separate configuration file parser.
package cli

import (
	"github.com/spf13/cobra"
)

// Execute builds and runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:   "shardindex",
		Short: "Run a node of the log indexing cluster",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newRecoverCommand())
	return root.Execute()
}
