package main

import (
	"os"

	"github.com/R0m1k3/n8ngest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
