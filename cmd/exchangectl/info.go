package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print a running node's committed succession list",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Same control-plane caveat as dump: Exchange.Info formats the
			// string this command would print, but reaching a remote
			// node's instance needs an RPC this module doesn't define.
			fmt.Println("info: no control socket configured for this node")
			return nil
		},
	}
	return cmd
}
