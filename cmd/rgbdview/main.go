// Package main is the rgbdview command.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.viam.com/rgbdview/cli"
	"go.viam.com/rgbdview/logging"
	// registers all sensor drivers.
	_ "go.viam.com/rgbdview/sensor/register"
)

func main() {
	// Logs go to stderr, stdout belongs to the terminal surface.
	logger := logging.NewBlankLogger("rgbdview")
	logger.SetLevel(logging.INFO)
	console := logging.NewPausableAppender(logging.NewWriterAppender(os.Stderr))
	logger.AddAppender(console)
	logging.ReplaceGlobal(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	runner := &cli.Runner{In: os.Stdin, Out: os.Stdout, ErrOut: os.Stderr, Logger: logger, Console: console}
	code := runner.Run(ctx, os.Args)
	stop()
	//nolint:errcheck
	logger.Sync()
	os.Exit(code)
}
