//go:build windows

package signals

import (
	"os"
	"syscall"
)

var handled = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// Translate maps a received signal to an Event. Windows has nothing to forward.
func Translate(sig syscall.Signal) Event {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		return Event{Kind: Shutdown, Signal: sig}
	default:
		return Event{Kind: None}
	}
}
