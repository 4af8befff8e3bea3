// Package main runs the marketflow engine: event triggers, schedule polling and sweeps.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:                  "marketflow-engine",
		Usage:                 "Run shop marketing workflows on events and schedules",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewRunCommand(),
			NewSweepCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
