// Package main is the photogrammetry command line tool.
package main

import (
	"fmt"
	"os"

	"go.viam.com/photogrammetry/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		//nolint:errcheck
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
