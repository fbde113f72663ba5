//go:build !windows

package signals

import (
	"os"
	"syscall"
)

var handled = []os.Signal{
	syscall.SIGINT, syscall.SIGTERM,
	syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGALRM,
}

// Translate maps a received signal to an Event. It has no side effects.
func Translate(sig syscall.Signal) Event {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		return Event{Kind: Shutdown, Signal: sig}
	case syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGALRM:
		return Event{Kind: Forward, Signal: sig}
	default:
		return Event{Kind: None}
	}
}
