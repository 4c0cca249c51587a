// The athene binary is the command-line client for a running athene API
// server.
package main

import (
	"os"

	"github.com/athene-kg/athene/internal/interfaces/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
