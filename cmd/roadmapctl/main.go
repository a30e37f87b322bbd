// Package main provides the entry point for the roadmapctl CLI.
package main

import (
	"fmt"
	"os"

	"github.com/741311791/roadmap-agent-sub009/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
