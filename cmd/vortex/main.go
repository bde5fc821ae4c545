// Command vortex is the Vortex control binary: it runs the execution
// plane daemon and provides client commands for deploying and invoking
// functions against a running daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	serverURL  string
)

func main() {
	root := &cobra.Command{
		Use:   "vortex",
		Short: "Vortex function-as-a-service platform",
		Long:  "Vortex deploys short JavaScript programs and executes them on demand in isolated sandboxes, streaming their console output to live subscribers.",
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "daemon address for client commands")

	root.AddCommand(serveCmd())
	root.AddCommand(deployCmd())
	root.AddCommand(invokeCmd())
	root.AddCommand(logsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
