package cmd

import (
	"github.com/grovetools/tabsd/cli"
	"github.com/spf13/cobra"
)

// NewRootCmd assembles the tabsd command tree.
func NewRootCmd() *cobra.Command {
	root := cli.NewStandardCommand(
		"tabsd",
		"Coordinate Custom Tabs sessions, speculative loads and warmup",
	)
	root.Long = `tabsd runs a daemon that owns client sessions and a single speculation slot.
Clients predict the next url with may-launch, take over the hidden tab with
take, and report what was actually opened with launch.`
	cli.SetVersionTemplate(root)

	root.AddCommand(NewDaemonCmd())
	root.AddCommand(NewSessionCmd())
	root.AddCommand(NewWarmupCmd())
	root.AddCommand(NewMayLaunchCmd())
	root.AddCommand(NewTakeCmd())
	root.AddCommand(NewLaunchCmd())
	root.AddCommand(NewCancelCmd())
	root.AddCommand(NewStateCmd())
	root.AddCommand(NewMetricsCmd())
	root.AddCommand(NewWatchCmd())
	root.AddCommand(NewTopCmd())
	root.AddCommand(NewThrottleCmd())
	root.AddCommand(NewAdminCmd())
	root.AddCommand(NewLogsCmd())
	root.AddCommand(NewConfigCmd())
	root.AddCommand(NewPathsCmd())
	root.AddCommand(cli.NewVersionCommand("tabsd"))

	cli.ApplyStyledHelpRecursive(root)
	return root
}
