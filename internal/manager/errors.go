package manager

import "errors"

var (
	// ErrInvalidPort is returned by AddService when a package exposes entry is
	// not a non-negative port number.
	ErrInvalidPort = errors.New("manager: invalid exposed port")
	// ErrLocked is returned by New when another supervisor holds the lock file.
	ErrLocked = errors.New("manager: supervisor lock held by another process")
	// ErrDuplicateService is returned by AddService for an already supervised service group.
	ErrDuplicateService = errors.New("manager: service group already supervised")
	// ErrUnknownStrategy is returned by ParseUpdateStrategy.
	ErrUnknownStrategy = errors.New("manager: unknown update strategy")
)
