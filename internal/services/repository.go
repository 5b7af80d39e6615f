// Package services provides repository interfaces and SQLite implementations
// for the small amount of state keepalived persists across restarts.
package services

import "errors"

// Sentinel errors returned by repositories.
var (
	ErrNotFound = errors.New("not found")
)
