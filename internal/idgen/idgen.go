// Package idgen generates opaque identifiers used outside the wire
// protocol (correlation IDs, internal trace keys).
package idgen

import "github.com/google/uuid"

// New returns a fresh random identifier.
func New() string {
	return uuid.New().String()
}
