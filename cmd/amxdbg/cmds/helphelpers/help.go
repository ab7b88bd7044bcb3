package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prepare prepares cmd flag set for the invocation of its usage function by
// hiding flags that we want cobra to parse but we don't want to show to the
// user.
// The connection and logging flags live on the root command so that
//
//	amxdbg --send-retries 3 connect 10.0.0.2:7667
//
// parses, but they mean nothing to commands that never connect.
func Prepare(cmd *cobra.Command) {
	switch cmd.Name() {
	case "version", "log":
		hideAllFlags(cmd)
	case "help":
		hideAllFlags(cmd)
		hideFlag(cmd, "help")
	case "amxdbg", "connect":
		// All flags apply
	}
}

func hideAllFlags(cmd *cobra.Command) {
	for c := cmd; c != nil; c = c.Parent() {
		c.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
			if flag.Name != "help" {
				flag.Hidden = true
			}
		})
	}
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if flag.Name != "help" {
			flag.Hidden = true
		}
	})
}

func hideFlag(cmd *cobra.Command, name string) {
	if cmd == nil {
		return
	}
	flag := cmd.Flags().Lookup(name)
	if flag != nil {
		flag.Hidden = true
		return
	}
	hideFlag(cmd.Parent(), name)
}
