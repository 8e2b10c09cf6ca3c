// Package main is the entry point for the spanctl CLI tool.
package main

import (
	"os"

	"github.com/spanlight/spanlight/cmd/spanctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
