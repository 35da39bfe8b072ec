// Package main is the operator CLI for the overlay users registry.
package main

import (
	"os"

	"github.com/louisbranch/overlay/cmd/overlayctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
