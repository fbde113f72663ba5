// Package census derives a per-member view of the ring from the gossip stores.
package census

import (
	"encoding/json"
	"sort"

	"github.com/loykin/fleetsup/internal/gossip"
)

// Update fingerprints the three stores a List was built from.
type Update struct {
	Service  uint64 `json:"service"`
	Election uint64 `json:"election"`
	Member   uint64 `json:"member"`
}

// Entry is one member's view of one service group.
type Entry struct {
	MemberID       string                `json:"member_id"`
	ServiceGroup   gossip.ServiceGroup   `json:"service_group"`
	Hostname       string                `json:"hostname"`
	IP             string                `json:"ip"`
	Exposes        []uint32              `json:"exposes,omitempty"`
	ElectionKnown  bool                  `json:"election_known"`
	ElectionStatus gossip.ElectionStatus `json:"election_status"`
	Term           uint64                `json:"term"`
	Leader         bool                  `json:"leader"`
	Follower       bool                  `json:"follower"`
	Alive          bool                  `json:"alive"`
	Suspect        bool                  `json:"suspect"`
	Confirmed      bool                  `json:"confirmed"`
	Persistent     bool                  `json:"persistent"`
}

func (e Entry) clone() Entry {
	e.Exposes = append([]uint32(nil), e.Exposes...)
	return e
}

// List maps member id to that member's entries. It is not modified after Build returns.
type List struct {
	members map[string]map[string]*Entry
}

func newList() *List { return &List{members: make(map[string]map[string]*Entry)} }

func (l *List) insert(r gossip.ServiceRumor) {
	byGroup, ok := l.members[r.MemberID]
	if !ok {
		byGroup = make(map[string]*Entry)
		l.members[r.MemberID] = byGroup
	}
	byGroup[r.ServiceGroup.String()] = &Entry{
		MemberID:     r.MemberID,
		ServiceGroup: r.ServiceGroup,
		Hostname:     r.Hostname,
		IP:           r.IP,
		Exposes:      append([]uint32(nil), r.Exposes...),
	}
}

func (l *List) populateFromElection(r gossip.ElectionRumor) {
	key := r.ServiceGroup.String()
	for id, byGroup := range l.members {
		e, ok := byGroup[key]
		if !ok {
			continue
		}
		e.ElectionKnown = true
		e.ElectionStatus = r.Status
		e.Term = r.Term
		if r.Status == gossip.ElectionFinished {
			e.Leader = id == r.MemberID
			e.Follower = !e.Leader
		}
	}
}

func (l *List) populateFromMember(m gossip.Member, h gossip.Health) {
	for _, e := range l.members[m.ID] {
		e.Alive = h == gossip.Alive
		e.Suspect = h == gossip.Suspect
		e.Confirmed = h == gossip.Confirmed
		e.Persistent = m.Persistent
	}
}

// Get returns the entry for member id in group sg.
func (l *List) Get(memberID string, sg gossip.ServiceGroup) (Entry, bool) {
	if l == nil {
		return Entry{}, false
	}
	e, ok := l.members[memberID][sg.String()]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Members returns the member ids in sorted order.
func (l *List) Members() []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.members))
	for id := range l.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len is the number of entries across all members.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	n := 0
	for _, byGroup := range l.members {
		n += len(byGroup)
	}
	return n
}

// GroupEntries returns every member's entry for sg, sorted by member id.
func (l *List) GroupEntries(sg gossip.ServiceGroup) []Entry {
	var out []Entry
	key := sg.String()
	for _, id := range l.Members() {
		if e, ok := l.members[id][key]; ok {
			out = append(out, e.clone())
		}
	}
	return out
}

// Leader returns the elected leader of sg, if the election has finished.
func (l *List) Leader(sg gossip.ServiceGroup) (Entry, bool) {
	for _, e := range l.GroupEntries(sg) {
		if e.Leader {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns every entry ordered by member id then service group.
func (l *List) Entries() []Entry {
	var out []Entry
	for _, id := range l.Members() {
		keys := make([]string, 0, len(l.members[id]))
		for k := range l.members[id] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, l.members[id][k].clone())
		}
	}
	return out
}

func (l *List) MarshalJSON() ([]byte, error) {
	entries := l.Entries()
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(entries)
}
