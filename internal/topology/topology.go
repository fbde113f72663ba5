// Package topology decides when a service may run given the census.
package topology

import (
	"fmt"
	"strings"

	"github.com/loykin/fleetsup/internal/census"
	"github.com/loykin/fleetsup/internal/gossip"
)

type Topology string

const (
	// Standalone services run whenever the supervisor is up.
	Standalone Topology = "standalone"
	// Leader services only run once their group's election has finished.
	Leader Topology = "leader"
)

// Parse accepts the configuration spelling of a topology; empty means standalone.
func Parse(s string) (Topology, error) {
	switch t := Topology(strings.ToLower(strings.TrimSpace(s))); t {
	case "", Standalone:
		return Standalone, nil
	case Leader:
		return Leader, nil
	default:
		return "", fmt.Errorf("topology: unknown topology %q", s)
	}
}

// Decision is a policy verdict with a reason suitable for logs.
type Decision struct {
	Allowed bool
	Reason  string
}

// CanStart reports whether a service of this topology may start now.
func (t Topology) CanStart(sg gossip.ServiceGroup, list *census.List) Decision {
	if t != Leader {
		return Decision{Allowed: true}
	}
	if list == nil {
		return Decision{Reason: "census not built yet"}
	}
	entries := list.GroupEntries(sg)
	if len(entries) == 0 {
		return Decision{Reason: "service group not in census"}
	}
	if !entries[0].ElectionKnown {
		return Decision{Reason: "no election for service group"}
	}
	if entries[0].ElectionStatus != gossip.ElectionFinished {
		return Decision{Reason: "election " + entries[0].ElectionStatus.String()}
	}
	return Decision{Allowed: true}
}

// RestartOnExit reports whether an unexpected exit should be answered with a
// restart. Leader services are only restarted while the election still holds.
func (t Topology) RestartOnExit(sg gossip.ServiceGroup, list *census.List) Decision {
	return t.CanStart(sg, list)
}
