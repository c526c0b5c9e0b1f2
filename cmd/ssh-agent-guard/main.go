package main

import (
	"os"

	"github.com/tkingovr/ssh-agent-guard/cmd/ssh-agent-guard/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
