// Command capflow runs the capacity-aware batch queue simulation and exposes
// its configuration.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
