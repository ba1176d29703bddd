// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/navigator/cmd"
)

// main is the entry point for the navigator CLI.
func main() {
	// Ctrl+C cancels the running session; the browser is still released.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cmd.Execute(ctx)
	stop()
	os.Exit(cmd.ExitCode(err))
}
