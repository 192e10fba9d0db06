package database

import "errors"

var (
	// ErrShortLinkNotFound is returned when no active short link matches
	// the requested short code. Deactivated links resolve the same way.
	ErrShortLinkNotFound = errors.New("short link not found")
)
