package gossip

import "strings"

// ServiceGroup names a service within a group, optionally scoped to an organization.
type ServiceGroup struct {
	Service      string `cbor:"1,keyasint" json:"service"`
	Group        string `cbor:"2,keyasint" json:"group"`
	Organization string `cbor:"3,keyasint,omitempty" json:"organization,omitempty"`
}

// String renders "service.group" or "service.group@org".
func (sg ServiceGroup) String() string {
	s := sg.Service + "." + sg.Group
	if sg.Organization != "" {
		s += "@" + sg.Organization
	}
	return s
}

// ParseServiceGroup is the inverse of String.
func ParseServiceGroup(s string) (ServiceGroup, bool) {
	var sg ServiceGroup
	s, sg.Organization, _ = strings.Cut(s, "@")
	var ok bool
	sg.Service, sg.Group, ok = strings.Cut(s, ".")
	if !ok || sg.Service == "" || sg.Group == "" {
		return ServiceGroup{}, false
	}
	return sg, true
}

// Rumor is anything held in a Store. Rumors are grouped by Key and
// identified within the group by ID; a higher Version replaces a lower one.
type Rumor interface {
	Key() string
	ID() string
	Version() uint64
}

// ServiceRumor announces that a member runs a service.
type ServiceRumor struct {
	MemberID     string       `cbor:"1,keyasint" json:"member_id"`
	ServiceGroup ServiceGroup `cbor:"2,keyasint" json:"service_group"`
	Hostname     string       `cbor:"3,keyasint" json:"hostname"`
	IP           string       `cbor:"4,keyasint" json:"ip"`
	Exposes      []uint32     `cbor:"5,keyasint,omitempty" json:"exposes,omitempty"`
	Incarnation  uint64       `cbor:"6,keyasint" json:"incarnation"`
}

func (r ServiceRumor) Key() string     { return r.ServiceGroup.String() }
func (r ServiceRumor) ID() string      { return r.MemberID }
func (r ServiceRumor) Version() uint64 { return r.Incarnation }

// ElectionID is the single rumor id every election is stored under.
const ElectionID = "election"

type ElectionStatus int

const (
	ElectionRunning ElectionStatus = iota
	ElectionNoQuorum
	ElectionFinished
)

func (s ElectionStatus) String() string {
	switch s {
	case ElectionNoQuorum:
		return "no-quorum"
	case ElectionFinished:
		return "finished"
	default:
		return "running"
	}
}

// ElectionRumor carries the leader election state of one service group.
type ElectionRumor struct {
	ServiceGroup ServiceGroup   `cbor:"1,keyasint" json:"service_group"`
	MemberID     string         `cbor:"2,keyasint" json:"member_id"` // current candidate or winner
	Term         uint64         `cbor:"3,keyasint" json:"term"`
	Status       ElectionStatus `cbor:"4,keyasint" json:"status"`
	Votes        []string       `cbor:"5,keyasint,omitempty" json:"votes,omitempty"`
	Incarnation  uint64         `cbor:"6,keyasint" json:"incarnation"`
}

func (r ElectionRumor) Key() string     { return r.ServiceGroup.String() }
func (r ElectionRumor) ID() string      { return ElectionID }
func (r ElectionRumor) Version() uint64 { return r.Incarnation }
