package gossip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var redis = ServiceGroup{Service: "redis", Group: "prod"}

func TestServiceGroup_StringAndParse(t *testing.T) {
	assert.Equal(t, "redis.prod", redis.String())
	withOrg := ServiceGroup{Service: "redis", Group: "prod", Organization: "acme"}
	assert.Equal(t, "redis.prod@acme", withOrg.String())

	got, ok := ParseServiceGroup("redis.prod@acme")
	require.True(t, ok)
	assert.Equal(t, withOrg, got)
	_, ok = ParseServiceGroup("redis")
	assert.False(t, ok)
}

func TestStore_InsertByVersion(t *testing.T) {
	s := NewStore[ServiceRumor]()
	assert.Equal(t, uint64(0), s.UpdateCounter())

	r := ServiceRumor{MemberID: "a", ServiceGroup: redis, Incarnation: 1}
	assert.True(t, s.Insert(r))
	assert.Equal(t, uint64(1), s.UpdateCounter())

	assert.False(t, s.Insert(r), "same version is not a change")
	r.Hostname = "stale"
	r.Incarnation = 0
	assert.False(t, s.Insert(r))
	assert.Equal(t, uint64(1), s.UpdateCounter())

	r.Incarnation = 2
	r.Hostname = "fresh"
	assert.True(t, s.Insert(r))
	got, ok := s.Get(redis.String(), "a")
	require.True(t, ok)
	assert.Equal(t, "fresh", got.Hostname)
	assert.Equal(t, uint64(2), s.UpdateCounter())
}

func TestStore_WithKeysSortedAndRemove(t *testing.T) {
	s := NewStore[ServiceRumor]()
	web := ServiceGroup{Service: "web", Group: "prod"}
	s.Insert(ServiceRumor{MemberID: "a", ServiceGroup: web})
	s.Insert(ServiceRumor{MemberID: "a", ServiceGroup: redis})
	s.Insert(ServiceRumor{MemberID: "b", ServiceGroup: redis})

	var keys []string
	s.WithKeys(func(key string, rumors map[string]ServiceRumor) {
		keys = append(keys, key)
	})
	assert.Equal(t, []string{"redis.prod", "web.prod"}, keys)
	assert.Equal(t, 3, s.Len())
	assert.Len(t, s.All(), 3)

	before := s.UpdateCounter()
	assert.True(t, s.Remove("web.prod", "a"))
	assert.False(t, s.Remove("web.prod", "a"))
	assert.Equal(t, before+1, s.UpdateCounter())
	assert.Equal(t, 2, s.Len())
}

func TestElectionRumor_SingleID(t *testing.T) {
	s := NewStore[ElectionRumor]()
	s.Insert(ElectionRumor{ServiceGroup: redis, MemberID: "a", Incarnation: 1})
	s.Insert(ElectionRumor{ServiceGroup: redis, MemberID: "b", Incarnation: 2})
	assert.Equal(t, 1, s.Len())
	got, ok := s.Get(redis.String(), ElectionID)
	require.True(t, ok)
	assert.Equal(t, "b", got.MemberID)
}

func TestMemberList_Health(t *testing.T) {
	l := NewMemberList()
	m := Member{ID: "a", Incarnation: 1}
	assert.True(t, l.Insert(m, Alive))
	assert.True(t, l.Insert(m, Suspect), "worse health at same incarnation is accepted")
	assert.False(t, l.Insert(m, Alive), "refutation needs a newer incarnation")
	m.Incarnation = 2
	assert.True(t, l.Insert(m, Alive))

	before := l.UpdateCounter()
	assert.False(t, l.SetHealth("a", Alive))
	assert.True(t, l.SetHealth("a", Confirmed))
	assert.False(t, l.SetHealth("missing", Confirmed))
	assert.Equal(t, before+1, l.UpdateCounter())

	_, h, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, Confirmed, h)
	assert.Equal(t, "confirmed", h.String())
}

func TestNewMemberID(t *testing.T) {
	a, b := NewMemberID(), NewMemberID()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
