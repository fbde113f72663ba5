package client

import "time"

// Usage is live resource usage of a running service process.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSS        uint64    `json:"memory_rss"`
	VMS        uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ServiceStatus is one supervised service as reported by GET /services.
type ServiceStatus struct {
	Name         string    `json:"name"`
	ServiceGroup string    `json:"service_group"`
	Package      string    `json:"package"`
	Topology     string    `json:"topology"`
	Strategy     string    `json:"update_strategy"`
	Running      bool      `json:"running"`
	PID          int       `json:"pid,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	Restarts     int       `json:"restarts"`
	ExitCode     int       `json:"exit_code"`
	NeedsRestart bool      `json:"needs_restart"`
	LastError    string    `json:"last_error,omitempty"`
	Usage        *Usage    `json:"usage,omitempty"`
}

type ServiceGroup struct {
	Service      string `json:"service"`
	Group        string `json:"group"`
	Organization string `json:"organization,omitempty"`
}

// CensusEntry is one member's view of one service group.
type CensusEntry struct {
	MemberID       string       `json:"member_id"`
	ServiceGroup   ServiceGroup `json:"service_group"`
	Hostname       string       `json:"hostname"`
	IP             string       `json:"ip"`
	Exposes        []uint32     `json:"exposes,omitempty"`
	ElectionKnown  bool         `json:"election_known"`
	ElectionStatus int          `json:"election_status"`
	Term           uint64       `json:"term"`
	Leader         bool         `json:"leader"`
	Follower       bool         `json:"follower"`
	Alive          bool         `json:"alive"`
	Suspect        bool         `json:"suspect"`
	Confirmed      bool         `json:"confirmed"`
	Persistent     bool         `json:"persistent"`
}

// Event is one service lifecycle event.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	Package    string    `json:"package"`
	PID        int       `json:"pid,omitempty"`
	ExitCode   int       `json:"exit_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Health is the GET /healthz body.
type Health struct {
	OK        bool      `json:"ok"`
	MemberID  string    `json:"member_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
