// Command innkeeper provisions, seeds and inspects a booking database.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacentio/innkeeper/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	os.Exit(code)
}
