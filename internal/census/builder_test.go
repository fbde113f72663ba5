package census

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/fleetsup/internal/gossip"
)

var (
	redis = gossip.ServiceGroup{Service: "redis", Group: "prod"}
	web   = gossip.ServiceGroup{Service: "web", Group: "prod"}
)

type countingElections struct {
	counter uint64
	groups  map[string]map[string]gossip.ElectionRumor
	walks   int
}

func (c *countingElections) UpdateCounter() uint64 { return c.counter }

func (c *countingElections) WithKeys(fn func(string, map[string]gossip.ElectionRumor)) {
	c.walks++
	for k, v := range c.groups {
		fn(k, v)
	}
}

type stores struct {
	services  *gossip.Store[gossip.ServiceRumor]
	elections *gossip.Store[gossip.ElectionRumor]
	members   *gossip.MemberList
}

func newStores() stores {
	return stores{gossip.NewStore[gossip.ServiceRumor](), gossip.NewStore[gossip.ElectionRumor](), gossip.NewMemberList()}
}

func (s stores) builder() *Builder { return NewBuilder(s.services, s.elections, s.members) }

func TestBuild_NoChangeSkipsStores(t *testing.T) {
	el := &countingElections{counter: 7}
	b := NewBuilder(gossip.NewStore[gossip.ServiceRumor](), el, gossip.NewMemberList())
	prev := b.Current()

	changed, next, list, err := b.Build(prev)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, prev, next)
	assert.Nil(t, list)
	assert.Equal(t, 0, el.walks)
}

func TestBuild_ChangeIncludesEveryServiceRumor(t *testing.T) {
	s := newStores()
	s.services.Insert(gossip.ServiceRumor{MemberID: "a", ServiceGroup: redis, Hostname: "h1", IP: "10.0.0.1", Exposes: []uint32{6379}})
	s.services.Insert(gossip.ServiceRumor{MemberID: "b", ServiceGroup: redis, Hostname: "h2", IP: "10.0.0.2"})
	s.services.Insert(gossip.ServiceRumor{MemberID: "a", ServiceGroup: web, Hostname: "h1"})

	changed, next, list, err := s.builder().Build(Update{})
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, Update{Service: 3}, next)
	assert.Equal(t, 3, list.Len())
	assert.Equal(t, []string{"a", "b"}, list.Members())

	e, ok := list.Get("a", redis)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", e.IP)
	assert.Equal(t, []uint32{6379}, e.Exposes)
	assert.False(t, e.ElectionKnown)
}

func TestBuild_Idempotent(t *testing.T) {
	s := newStores()
	s.services.Insert(gossip.ServiceRumor{MemberID: "a", ServiceGroup: redis})
	s.members.Insert(gossip.Member{ID: "a"}, gossip.Alive)
	b := s.builder()

	_, u1, l1, err := b.Build(Update{})
	require.NoError(t, err)
	_, u2, l2, err := b.Build(Update{})
	require.NoError(t, err)
	assert.Equal(t, u1, u2)
	assert.Equal(t, l1.Entries(), l2.Entries())

	changed, _, l3, err := b.Build(u1)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, l3)
}

func TestBuild_ElectionAndMemberFacts(t *testing.T) {
	s := newStores()
	s.services.Insert(gossip.ServiceRumor{MemberID: "a", ServiceGroup: redis})
	s.services.Insert(gossip.ServiceRumor{MemberID: "b", ServiceGroup: redis})
	s.services.Insert(gossip.ServiceRumor{MemberID: "b", ServiceGroup: web})
	s.elections.Insert(gossip.ElectionRumor{ServiceGroup: redis, MemberID: "b", Term: 4, Status: gossip.ElectionFinished})
	s.members.Insert(gossip.Member{ID: "a", Persistent: true}, gossip.Alive)
	s.members.Insert(gossip.Member{ID: "b"}, gossip.Suspect)

	_, _, list, err := s.builder().Build(Update{})
	require.NoError(t, err)

	leader, ok := list.Leader(redis)
	require.True(t, ok)
	assert.Equal(t, "b", leader.MemberID)
	assert.Equal(t, uint64(4), leader.Term)
	assert.True(t, leader.Suspect)

	a, _ := list.Get("a", redis)
	assert.True(t, a.Follower)
	assert.True(t, a.Alive)
	assert.True(t, a.Persistent)

	w, _ := list.Get("b", web)
	assert.False(t, w.ElectionKnown, "election of one group must not touch another")
	_, ok = list.Leader(web)
	assert.False(t, ok)
}

func TestBuild_RunningElectionHasNoLeader(t *testing.T) {
	s := newStores()
	s.services.Insert(gossip.ServiceRumor{MemberID: "a", ServiceGroup: redis})
	s.elections.Insert(gossip.ElectionRumor{ServiceGroup: redis, MemberID: "a", Status: gossip.ElectionRunning})
	_, _, list, err := s.builder().Build(Update{})
	require.NoError(t, err)
	e, _ := list.Get("a", redis)
	assert.True(t, e.ElectionKnown)
	assert.False(t, e.Leader)
	assert.False(t, e.Follower)
}

func TestBuild_MissingElectionFailsLoudly(t *testing.T) {
	el := &countingElections{counter: 1, groups: map[string]map[string]gossip.ElectionRumor{
		redis.String(): {"not-election": {ServiceGroup: redis}},
	}}
	svc := gossip.NewStore[gossip.ServiceRumor]()
	svc.Insert(gossip.ServiceRumor{MemberID: "a", ServiceGroup: redis})
	b := NewBuilder(svc, el, gossip.NewMemberList())

	prev := Update{Service: 99}
	changed, next, list, err := b.Build(prev)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingElection))
	assert.Contains(t, err.Error(), "redis.prod")
	assert.False(t, changed)
	assert.Equal(t, prev, next)
	assert.Nil(t, list)
}

func TestBuild_RebuildDropsRemovedRumors(t *testing.T) {
	s := newStores()
	s.services.Insert(gossip.ServiceRumor{MemberID: "a", ServiceGroup: redis})
	s.services.Insert(gossip.ServiceRumor{MemberID: "b", ServiceGroup: redis})
	b := s.builder()
	_, u, _, err := b.Build(Update{})
	require.NoError(t, err)

	s.services.Remove(redis.String(), "b")
	changed, _, list, err := b.Build(u)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, []string{"a"}, list.Members())
}

func TestList_NilSafe(t *testing.T) {
	var l *List
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Members())
	_, ok := l.Get("a", redis)
	assert.False(t, ok)
	b, err := l.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}
