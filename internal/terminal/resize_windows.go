//go:build windows

package terminal

import "context"

// WatchResize is a no-op on Windows, which has no SIGWINCH.
func (c *Console) WatchResize(ctx context.Context, fn func(cols, rows int)) {
	<-ctx.Done()
}
