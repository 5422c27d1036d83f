package main

import (
	"os"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/cmd/trifinger-runner/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
