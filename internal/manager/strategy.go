package manager

import (
	"fmt"
	"strings"
)

// UpdateStrategy selects how a service follows new releases from the depot.
type UpdateStrategy int

const (
	// UpdateNone never checks the depot.
	UpdateNone UpdateStrategy = iota
	// UpdateAtOnce restarts the service as soon as a newer release is installed.
	UpdateAtOnce
)

func (s UpdateStrategy) String() string {
	switch s {
	case UpdateAtOnce:
		return "at-once"
	default:
		return "none"
	}
}

// ParseUpdateStrategy accepts the configuration spelling; empty means none.
func ParseUpdateStrategy(s string) (UpdateStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return UpdateNone, nil
	case "at-once":
		return UpdateAtOnce, nil
	default:
		return UpdateNone, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}
