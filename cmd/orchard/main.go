// Package main is the entry point for the orchard CLI.
package main

import (
	"os"

	"github.com/orchard-run/orchard/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
