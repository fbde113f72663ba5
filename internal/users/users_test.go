package users

import (
	"os/user"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystem_ResolvesCurrentUser(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("group lookup differs on windows")
	}
	u, err := user.Current()
	if err != nil {
		t.Skipf("no current user: %v", err)
	}
	g, err := user.LookupGroupId(u.Gid)
	if err != nil {
		t.Skipf("no primary group: %v", err)
	}
	id, ok := System{}.Resolve(u.Username, g.Name)
	assert.True(t, ok)
	assert.Equal(t, u.Username, id.User)
	assert.Equal(t, u.Uid, uintString(id.UID))
	assert.Equal(t, u.Gid, uintString(id.GID))
}

func TestSystem_Unknown(t *testing.T) {
	_, ok := System{}.Resolve("no-such-user-fleetsup", "no-such-group-fleetsup")
	assert.False(t, ok)
	_, ok = System{}.Resolve("", "")
	assert.False(t, ok)
}

func TestStatic(t *testing.T) {
	s := Static{"web": {User: "web", Group: "web", UID: 1001, GID: 1001}}
	id, ok := s.Resolve("web", "web")
	assert.True(t, ok)
	assert.Equal(t, uint32(1001), id.UID)
	_, ok = s.Resolve("web", "other")
	assert.False(t, ok)
}

func uintString(v uint32) string { return strconv.FormatUint(uint64(v), 10) }
