package manager

import (
	"time"

	"github.com/loykin/fleetsup/internal/census"
)

// ServiceStatus is a point-in-time view of one service.
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
}

// Status is published at the end of every tick for readers outside the loop.
type Status struct {
	MemberID  string          `json:"member_id"`
	UpdatedAt time.Time       `json:"updated_at"`
	Census    *census.List    `json:"census"`
	Services  []ServiceStatus `json:"services"`
}

// Status returns the snapshot published by the last tick. Safe for concurrent use.
func (m *Manager) Status() Status {
	if st := m.status.Load(); st != nil {
		return *st
	}
	return Status{}
}

func (m *Manager) publishStatus() {
	st := &Status{
		MemberID:  m.gossip.MemberID(),
		UpdatedAt: m.clock.Now(),
		Census:    m.census,
		Services:  make([]ServiceStatus, 0, len(m.services)),
	}
	for _, s := range m.services {
		ps := s.runner.Snapshot()
		ss := ServiceStatus{
			Name:         s.Name(),
			ServiceGroup: s.ServiceGroup.String(),
			Package:      s.Package.Ident.String(),
			Topology:     string(s.Topology),
			Strategy:     s.UpdateStrategy.String(),
			Running:      ps.Running,
			PID:          ps.PID,
			StartedAt:    ps.StartedAt,
			Restarts:     ps.Restarts,
			ExitCode:     ps.ExitCode,
			NeedsRestart: s.NeedsRestart,
		}
		if s.LastError != nil {
			ss.LastError = s.LastError.Error()
		}
		st.Services = append(st.Services, ss)
	}
	m.status.Store(st)
}
