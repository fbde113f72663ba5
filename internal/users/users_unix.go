//go:build !windows

package users

import (
	"os/user"
	"strconv"
)

func resolve(name, group string) (Identity, bool) {
	u, err := user.Lookup(name)
	if err != nil {
		return Identity{}, false
	}
	g, err := user.LookupGroup(group)
	if err != nil {
		return Identity{}, false
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return Identity{}, false
	}
	gid, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return Identity{}, false
	}
	return Identity{User: name, Group: group, UID: uint32(uid), GID: uint32(gid)}, true
}
