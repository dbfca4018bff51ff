// ./main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/formrunner/cmd"
	"github.com/xkilldash9x/formrunner/internal/observability"
)

// main is the entry point for the formrunner application.
func main() {
	// SIGINT and SIGTERM start a graceful shutdown of whatever command is running.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
