package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	quiet   bool
	debug   bool
)

// newRootCmd assembles the command tree fresh; split out from main so
// tests can exercise it without a process exit on error.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lightflow",
		Short: "Distributed workflow engine: workflows of DAGs of tasks, dispatched over a broker.",
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: built-in defaults)")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(newConfigCmd())
	root.AddCommand(newWorkflowCmd())
	root.AddCommand(newWorkerCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
