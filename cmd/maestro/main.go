package main

import (
	"os"

	"github.com/maestro-run/maestro/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
