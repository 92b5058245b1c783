// Command codegraph is the entry point for the code-knowledge graph engine CLI.
package main

import (
	"fmt"
	"os"

	"codegraphix.dev/engine/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
