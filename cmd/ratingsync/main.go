// Command ratingsync runs the offline rating agent and its maintenance
// commands.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ratingsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
