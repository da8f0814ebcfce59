package main

import (
	"os"

	"github.com/bnema/stackops/internal/adapters/in/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
