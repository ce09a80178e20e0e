// Package commands implements the nexus CLI.
package commands

import "github.com/spf13/cobra"

// Register adds every nexus command to root
func Register(root *cobra.Command) {
	root.AddCommand(ActivateCmd)
	root.AddCommand(AmCmd)
	root.AddCommand(CallCmd)
	root.AddCommand(CorrectCmd)
	root.AddCommand(DbCmd)
	root.AddCommand(EnginesCmd)
	root.AddCommand(ReportCmd)
	root.AddCommand(ResetCmd)
	root.AddCommand(RunCmd)
	root.AddCommand(RunsCmd)
	root.AddCommand(ServerCmd)
	root.AddCommand(VersionCmd)
}
