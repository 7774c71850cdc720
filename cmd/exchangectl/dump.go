package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDumpCmd() *cobra.Command {
	var severity string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Request a state dump from a running node",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The control socket a dump client would connect over is not
			// part of the exchange core (Exchange.Dump only writes to the
			// node's own logger); wiring one belongs to the operator's
			// deployment, not this module.
			fmt.Printf("dump (%s): no control socket configured for this node; run with a sidecar that exposes Exchange.Dump over your chosen RPC\n", severity)
			return nil
		},
	}
	cmd.Flags().StringVar(&severity, "severity", "info", "severity to request (debug|info|warn|error)")
	return cmd
}
