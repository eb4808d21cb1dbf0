// Package shutdown cancels work when the process is asked to stop.
package shutdown

import (
	"context"
	"os"
	"os/signal"
)

// Context returns a child of parent that is cancelled by the first
// termination signal. A second signal exits the process with status 130.
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, signals...)

	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
			signal.Stop(ch)
			return
		}
		<-ch
		os.Exit(130)
	}()

	return ctx, func() {
		signal.Stop(ch)
		cancel()
	}
}
