package pkgs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidIdent is returned when a package identifier cannot be parsed.
var ErrInvalidIdent = errors.New("pkgs: invalid package identifier")

// Ident identifies a package as origin/name[/version[/release]].
// Version and Release may be empty for partially qualified identifiers.
type Ident struct {
	Origin  string `json:"origin" yaml:"origin"`
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Release string `json:"release,omitempty" yaml:"release,omitempty"`
}

// ParseIdent parses "origin/name", "origin/name/version" or "origin/name/version/release".
func ParseIdent(s string) (Ident, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) < 2 || len(parts) > 4 {
		return Ident{}, fmt.Errorf("%w: %q", ErrInvalidIdent, s)
	}
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\\") || p == "." || p == ".." {
			return Ident{}, fmt.Errorf("%w: %q", ErrInvalidIdent, s)
		}
	}
	id := Ident{Origin: parts[0], Name: parts[1]}
	if len(parts) > 2 {
		id.Version = parts[2]
	}
	if len(parts) > 3 {
		id.Release = parts[3]
	}
	return id, nil
}

func (i Ident) String() string {
	var b strings.Builder
	b.WriteString(i.Origin)
	b.WriteByte('/')
	b.WriteString(i.Name)
	if i.Version != "" {
		b.WriteByte('/')
		b.WriteString(i.Version)
		if i.Release != "" {
			b.WriteByte('/')
			b.WriteString(i.Release)
		}
	}
	return b.String()
}

// FullyQualified reports whether both version and release are set.
func (i Ident) FullyQualified() bool { return i.Version != "" && i.Release != "" }

// SamePackage reports whether both identifiers name the same origin/name.
func (i Ident) SamePackage(o Ident) bool { return i.Origin == o.Origin && i.Name == o.Name }

// Satisfies reports whether i is a concrete release matching the partial identifier want.
func (i Ident) Satisfies(want Ident) bool {
	if !i.SamePackage(want) {
		return false
	}
	if want.Version != "" && want.Version != i.Version {
		return false
	}
	if want.Release != "" && want.Release != i.Release {
		return false
	}
	return true
}

// Compare orders two identifiers of the same package by version, then release.
// It returns -1, 0 or 1. Identifiers of different packages compare by origin/name.
func (i Ident) Compare(o Ident) int {
	if c := strings.Compare(i.Origin, o.Origin); c != 0 {
		return c
	}
	if c := strings.Compare(i.Name, o.Name); c != 0 {
		return c
	}
	if c := compareVersion(i.Version, o.Version); c != 0 {
		return c
	}
	return compareVersion(i.Release, o.Release)
}

// Newer reports whether i is strictly newer than o.
func (i Ident) Newer(o Ident) bool {
	return i.SamePackage(o) && i.Compare(o) > 0
}

// compareVersion compares dotted/dashed versions segment by segment.
// Numeric segments compare numerically; anything else lexically. A version
// with extra trailing segments is newer ("1.2.1" > "1.2").
func compareVersion(a, b string) int {
	as := splitVersion(a)
	bs := splitVersion(b)
	for k := 0; k < len(as) && k < len(bs); k++ {
		if c := compareSegment(as[k], bs[k]); c != 0 {
			return c
		}
	}
	switch {
	case len(as) > len(bs):
		return 1
	case len(as) < len(bs):
		return -1
	}
	return 0
}

func splitVersion(v string) []string {
	if v == "" {
		return nil
	}
	return strings.FieldsFunc(v, func(r rune) bool { return r == '.' || r == '-' || r == '+' })
}

func compareSegment(a, b string) int {
	an, aErr := strconv.ParseUint(a, 10, 64)
	bn, bErr := strconv.ParseUint(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		switch {
		case an > bn:
			return 1
		case an < bn:
			return -1
		}
		return 0
	case aErr == nil:
		// numeric beats pre-release tags such as "rc1"
		return 1
	case bErr == nil:
		return -1
	}
	return strings.Compare(a, b)
}
