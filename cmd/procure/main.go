/*
main.go - procure command-line entry point

PURPOSE:
  One binary for running and operating the procurement engine.

COMMANDS:
  procure serve [--config file]          Start the HTTP API
  procure matrix check <file> [--value]  Validate a matrix, optionally route a value
  procure matrix default                 Print the built-in matrix as YAML

SEE ALSO:
  - serve.go: Server startup and graceful shutdown
  - matrix.go: Approval matrix tooling
  - config/config.go: Configuration sources
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "procure",
		Short:         "Procurement award engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(matrixCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
