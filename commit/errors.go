package commit

import "errors"

var (
	// ErrIncompatibleVersion is returned when a descriptor version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible commit descriptor version")

	// ErrCorrupt is returned when a descriptor fails its magic or checksum test.
	ErrCorrupt = errors.New("corrupt commit descriptor")

	// ErrNoCommit is returned when the directory holds no commit.
	ErrNoCommit = errors.New("no commit found")
)
