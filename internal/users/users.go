// Package users resolves the account a service should run as.
package users

// Identity is a resolved user and group. UID and GID are zero on platforms
// without numeric ids; SID carries the Windows security identifier instead.
type Identity struct {
	User  string `json:"user"`
	Group string `json:"group"`
	UID   uint32 `json:"uid"`
	GID   uint32 `json:"gid"`
	SID   string `json:"sid,omitempty"`
}

// Resolver maps user and group names to an Identity. The boolean is false
// when either name is unknown.
type Resolver interface {
	Resolve(user, group string) (Identity, bool)
}

// System resolves against the host account database.
type System struct{}

func (System) Resolve(user, group string) (Identity, bool) {
	if user == "" || group == "" {
		return Identity{}, false
	}
	return resolve(user, group)
}

// Static is a fixed table, used where the host database must not be consulted.
type Static map[string]Identity

func (s Static) Resolve(user, group string) (Identity, bool) {
	id, ok := s[user]
	if !ok || id.Group != group {
		return Identity{}, false
	}
	return id, true
}
