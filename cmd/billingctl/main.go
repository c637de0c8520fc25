// Command billingctl runs operator and scheduled billing tasks against the
// same database as the API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(wireApp).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
