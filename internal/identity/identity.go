// Package identity generates the per-session correlation token a page
// attaches to every envelope it sends.
package identity

import "github.com/google/uuid"

// New returns a fresh version-4 UUID in canonical lowercase form
// (xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx). Every random nibble comes from
// crypto/rand. uuid.New panics if the secure source fails.
func New() string {
	return uuid.New().String()
}

// Generator produces session identities. Sessions take one so tests can pin
// the token.
type Generator func() string

// Fixed returns a Generator that always yields id.
func Fixed(id string) Generator {
	return func() string { return id }
}
