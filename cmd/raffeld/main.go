// Command raffeld is a reference host for the Raffel service framework: it
// wires a small set of demonstration procedures into a server.Server and
// serves them over every enabled transport until an interrupt or shutdown
// request arrives.
package main

import (
	"os"

	"github.com/raffel-dev/raffel/runtime/logger"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("raffeld exited with error", "error", err)
		os.Exit(exitCodeFor(err))
	}
}
