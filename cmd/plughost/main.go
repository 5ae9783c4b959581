// Package main is the entry point for plughost.
package main

import (
	"fmt"
	"os"

	"github.com/dshills/plughost/internal/cli"
)

// Version information (set via ldflags during build).
var version = "dev"

func main() {
	cli.Version = version
	if err := cli.NewDefaultCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
