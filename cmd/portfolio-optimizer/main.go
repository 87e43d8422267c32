package main

import (
	"os"

	"github.com/iwvelando/portfolio-optimizer/cmd/portfolio-optimizer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
