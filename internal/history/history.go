// Package history records service lifecycle events.
package history

import (
	"context"
	"time"
)

type EventType string

const (
	EventStart       EventType = "start"
	EventStop        EventType = "stop"
	EventRestart     EventType = "restart"
	EventExit        EventType = "exit"
	EventUpdate      EventType = "update"
	EventReconfigure EventType = "reconfigure"
)

// Event is one lifecycle transition of a service.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	Package    string    `json:"package"`
	PID        int       `json:"pid,omitempty"`
	ExitCode   int       `json:"exit_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for events. Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Querier is implemented by sinks that can read events back.
type Querier interface {
	Recent(ctx context.Context, service string, limit int) ([]Event, error)
}
