package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/fleetsup/internal/census"
	"github.com/loykin/fleetsup/internal/gossip"
)

var sg = gossip.ServiceGroup{Service: "redis", Group: "prod"}

func buildList(t *testing.T, status *gossip.ElectionStatus) *census.List {
	t.Helper()
	svc := gossip.NewStore[gossip.ServiceRumor]()
	el := gossip.NewStore[gossip.ElectionRumor]()
	svc.Insert(gossip.ServiceRumor{MemberID: "a", ServiceGroup: sg})
	if status != nil {
		el.Insert(gossip.ElectionRumor{ServiceGroup: sg, MemberID: "a", Status: *status})
	}
	_, _, list, err := census.NewBuilder(svc, el, gossip.NewMemberList()).Build(census.Update{})
	require.NoError(t, err)
	return list
}

func TestParse(t *testing.T) {
	for in, want := range map[string]Topology{"": Standalone, "Standalone": Standalone, " leader ": Leader} {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := Parse("ring")
	assert.Error(t, err)
}

func TestCanStart(t *testing.T) {
	running, finished := gossip.ElectionRunning, gossip.ElectionFinished

	assert.True(t, Standalone.CanStart(sg, nil).Allowed)
	assert.False(t, Leader.CanStart(sg, nil).Allowed)
	assert.Equal(t, "no election for service group", Leader.CanStart(sg, buildList(t, nil)).Reason)
	assert.Equal(t, "election running", Leader.CanStart(sg, buildList(t, &running)).Reason)
	assert.True(t, Leader.CanStart(sg, buildList(t, &finished)).Allowed)
	assert.True(t, Leader.RestartOnExit(sg, buildList(t, &finished)).Allowed)

	other := gossip.ServiceGroup{Service: "web", Group: "prod"}
	assert.False(t, Leader.CanStart(other, buildList(t, &finished)).Allowed)
}
