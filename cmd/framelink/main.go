// Package main implements the framelink CLI: a websocket-hosted capability server and a
// client that calls it.
package main

import (
	"fmt"
	"os"
)

// main dispatches os.Args[1] to the matching command.
func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	cmd, ok := findCommand(os.Args[1])
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err := cmd.Run(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}
