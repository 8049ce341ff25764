package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lance13c/casepilot/cmd"
)

var version = "dev"

func main() {
	// the first Ctrl+C cancels the run so Chrome is shut down cleanly
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.SetVersion(version)
	code := cmd.Execute(ctx)
	stop()
	os.Exit(code)
}
