package main

import (
	"context"
	"fmt"
	"os"

	"github.com/clawinfra/clawroute/internal/cli"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	cli.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
	app := cli.New(os.Stdin, os.Stdout, os.Stderr)
	if err := app.Run(context.Background(), args); err != nil {
		fmt.Fprintf(os.Stderr, "clawroute: %v\n", err)
		return 1
	}
	return 0
}
