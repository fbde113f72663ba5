// Package signals turns OS signals received by the supervisor into control
// loop events. Delivery is buffered by os/signal and drained by polling, so
// the control loop never blocks on it.
package signals

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Kind classifies a polled signal.
type Kind int

const (
	None     Kind = iota
	Shutdown      // stop every service and terminate
	Forward       // pass Signal through to every service
)

func (k Kind) String() string {
	switch k {
	case Shutdown:
		return "shutdown"
	case Forward:
		return "forward"
	default:
		return "none"
	}
}

// Event is the result of one Poll.
type Event struct {
	Kind   Kind
	Signal syscall.Signal
}

// Source is polled once per control loop tick.
type Source interface {
	Poll() Event
}

// Dispatcher is the os/signal backed Source.
type Dispatcher struct {
	mu      sync.Mutex
	ch      chan os.Signal
	started bool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{ch: make(chan os.Signal, 16)}
}

// Start subscribes to every signal Translate understands.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	signal.Notify(d.ch, handled...)
	d.started = true
}

// Stop unsubscribes; pending signals are discarded.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	signal.Stop(d.ch)
	d.started = false
	for {
		select {
		case <-d.ch:
		default:
			return
		}
	}
}

// Poll returns the next pending event without blocking. Signals that
// translate to None are skipped.
func (d *Dispatcher) Poll() Event {
	for {
		select {
		case s := <-d.ch:
			sig, ok := s.(syscall.Signal)
			if !ok {
				continue
			}
			if ev := Translate(sig); ev.Kind != None {
				return ev
			}
		default:
			return Event{Kind: None}
		}
	}
}
