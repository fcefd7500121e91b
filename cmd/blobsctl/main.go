// Command blobsctl reads and writes blobs from the command line and runs a
// local sandbox of the blobs service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&rootOptions{}).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
