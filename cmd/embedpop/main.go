// Command embedpop manages the schema of the scenario entities and runs the
// embedded many-to-many check against a store.
//
//	embedpop --url memory:// check
//	embedpop --url 'mongodb://localhost:27017/?replicaSet=rs' schema refresh
//	embedpop --config embedpop.yaml schema ensure-indexes
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
