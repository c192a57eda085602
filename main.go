package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"reminder-dispatcher/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
