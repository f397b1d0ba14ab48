package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalContext returns a context derived from parent that is
// cancelled on the first SIGINT/SIGTERM. A second signal of either kind
// exits the process immediately, matching the double-ctrl-c convention
// used by long-running master/minion daemons.
func SetupSignalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
		<-ch
		os.Exit(1)
	}()

	return ctx
}
