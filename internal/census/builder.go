package census

import (
	"errors"
	"fmt"

	"github.com/loykin/fleetsup/internal/gossip"
)

// ErrMissingElection is returned when a group holds election rumors but none
// under gossip.ElectionID.
var ErrMissingElection = errors.New("census: election rumor missing")

// MemberSource is the read side of gossip.MemberList.
type MemberSource interface {
	UpdateCounter() uint64
	WithMembers(fn func(gossip.Member, gossip.Health))
}

type Builder struct {
	services  gossip.RumorStore[gossip.ServiceRumor]
	elections gossip.RumorStore[gossip.ElectionRumor]
	members   MemberSource
}

func NewBuilder(services gossip.RumorStore[gossip.ServiceRumor], elections gossip.RumorStore[gossip.ElectionRumor], members MemberSource) *Builder {
	return &Builder{services: services, elections: elections, members: members}
}

// Current reads the store counters.
func (b *Builder) Current() Update {
	return Update{
		Service:  b.services.UpdateCounter(),
		Election: b.elections.UpdateCounter(),
		Member:   b.members.UpdateCounter(),
	}
}

// Build rebuilds the census when the stores moved past prev. When nothing
// changed it returns changed=false and a nil list without reading the stores.
// On error the returned Update is prev, so the caller retries next time.
func (b *Builder) Build(prev Update) (bool, Update, *List, error) {
	next := b.Current()
	if next == prev {
		return false, prev, nil, nil
	}
	list := newList()
	b.services.WithKeys(func(_ string, rumors map[string]gossip.ServiceRumor) {
		for _, r := range rumors {
			list.insert(r)
		}
	})
	var err error
	b.elections.WithKeys(func(key string, rumors map[string]gossip.ElectionRumor) {
		if err != nil || len(rumors) == 0 {
			return
		}
		r, ok := rumors[gossip.ElectionID]
		if !ok {
			err = fmt.Errorf("%w: group %s", ErrMissingElection, key)
			return
		}
		list.populateFromElection(r)
	})
	if err != nil {
		return false, prev, nil, err
	}
	b.members.WithMembers(list.populateFromMember)
	return true, next, list, nil
}
