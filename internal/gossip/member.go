package gossip

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type Health int

const (
	Alive Health = iota
	Suspect
	Confirmed
)

func (h Health) String() string {
	switch h {
	case Suspect:
		return "suspect"
	case Confirmed:
		return "confirmed"
	default:
		return "alive"
	}
}

// Member is one supervisor in the ring.
type Member struct {
	ID          string `cbor:"1,keyasint" json:"id"`
	Incarnation uint64 `cbor:"2,keyasint" json:"incarnation"`
	Address     string `cbor:"3,keyasint" json:"address"`
	SwimPort    int    `cbor:"4,keyasint" json:"swim_port"`
	GossipPort  int    `cbor:"5,keyasint" json:"gossip_port"`
	Persistent  bool   `cbor:"6,keyasint" json:"persistent"`
}

// NewMemberID returns a fresh dash-less uuid.
func NewMemberID() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }

// MemberList tracks members and their health.
type MemberList struct {
	mu      sync.RWMutex
	members map[string]Member
	health  map[string]Health
	counter atomic.Uint64
}

func NewMemberList() *MemberList {
	return &MemberList{members: make(map[string]Member), health: make(map[string]Health)}
}

// Insert records m with health h. A higher incarnation always wins; at equal
// incarnation only a worse health is accepted, so a member has to refute
// suspicion by bumping its incarnation.
func (l *MemberList) Insert(m Member, h Health) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.members[m.ID]
	switch {
	case !ok, m.Incarnation > cur.Incarnation:
	case m.Incarnation == cur.Incarnation && h > l.health[m.ID]:
	default:
		return false
	}
	l.members[m.ID] = m
	l.health[m.ID] = h
	l.counter.Add(1)
	return true
}

// SetHealth changes the health of a known member.
func (l *MemberList) SetHealth(id string, h Health) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.members[id]; !ok || l.health[id] == h {
		return false
	}
	l.health[id] = h
	l.counter.Add(1)
	return true
}

func (l *MemberList) Get(id string) (Member, Health, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.members[id]
	return m, l.health[id], ok
}

func (l *MemberList) UpdateCounter() uint64 { return l.counter.Load() }

// WithMembers calls fn for every member. fn must not call back into l.
func (l *MemberList) WithMembers(fn func(Member, Health)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for id, m := range l.members {
		fn(m, l.health[id])
	}
}

func (l *MemberList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.members)
}
