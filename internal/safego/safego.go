// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import "log/slog"

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged under the given name rather than crashing the process. This should be
// used for all fire-and-forget goroutines (audit export, stats collectors,
// config reload callbacks) where an unrecovered panic would silently kill the
// goroutine forever.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "name", name, "panic", r)
			}
		}()
		fn()
	}()
}
