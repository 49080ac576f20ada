package main

import (
	"fmt"
	"os"

	"go.cmdserv.dev/cmdserv/internal/cli"
)

func main() {
	root := cli.NewClientRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
