package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var configPath string

func main() {
	app := cli.NewApp()
	app.Name = "paper-trader"
	app.Usage = "replay, walk-forward and paper trade strategies on a simulated account"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Value:       "./configs",
			Usage:       "directory containing config.yml",
			Destination: &configPath,
		},
	}
	app.Commands = []*cli.Command{
		backtestCommand,
		walkForwardCommand,
		paperCommand,
	}

	// Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := app.RunContext(ctx, os.Args)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
