package main

import (
	"os"

	"github.com/openbuilders/batch-submitter/internal/env"
)

func main() {
	env.Load(".env")

	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
