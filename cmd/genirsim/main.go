// Command genirsim simulates and evaluates conversations between simulated
// users and conversational search systems.
//
// Usage:
//
//	genirsim run CONFIG [--params TSV] [--log]
//	genirsim evaluate CONFIG RUNS.jsonl
//	genirsim serve [--addr :8080]
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

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
