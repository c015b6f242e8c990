// Package tokenstore persists the session token across invocations. The
// store is a single slot, last writer wins; no locking, since only one
// user's writes are expected.
package tokenstore

// Store is the persisted-session slot.
type Store interface {
	// Load returns the stored token; ok is false when the slot is empty.
	Load() (token string, ok bool, err error)
	Save(token string) error
	Remove() error
}
