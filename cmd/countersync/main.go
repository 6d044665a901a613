// Command countersync is the command-line sync client for shared counters.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/countersync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
