//go:build windows

package users

import "golang.org/x/sys/windows"

// resolve looks both names up as account SIDs. Groups on Windows are just
// accounts of another type, so the same lookup serves both.
func resolve(name, group string) (Identity, bool) {
	usid, _, _, err := windows.LookupSID("", name)
	if err != nil {
		return Identity{}, false
	}
	if _, _, _, err := windows.LookupSID("", group); err != nil {
		return Identity{}, false
	}
	return Identity{User: name, Group: group, SID: usid.String()}, true
}
