package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/go-secops/internal/cli"
)

var (
	version   = "dev"
	buildTime = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.SetVersion(version, buildTime)
	if err := cli.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
