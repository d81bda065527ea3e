//go:build !windows

package terminal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WatchResize follows window size changes until ctx is done, calling fn with
// the new size.
func (c *Console) WatchResize(ctx context.Context, fn func(cols, rows int)) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			cols, rows := c.Size()
			c.Resize(cols, rows)
			if fn != nil {
				fn(cols, rows)
			}
		}
	}
}
