// Command exchangectl runs and inspects an exchange node.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "exchangectl",
		Short: "Operate an exchange node",
	}
	root.AddCommand(newRunCmd(), newDumpCmd(), newInfoCmd())
	return root
}
