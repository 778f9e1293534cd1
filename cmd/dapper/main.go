// Package main is the entry point for dapper.
package main

import (
	"fmt"
	"os"

	"github.com/dshills/dapper/internal/cmd"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cmd.Version = version
	cmd.Commit = commit
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
