// Package store provides the persistence implementations behind the
// session.Store contract: a SQLite-backed store for the service and an
// in-memory store for tests. The engine only issues keyed insert/get/patch
// operations and index-driven listings, never ad-hoc scans.
package store

import "errors"

// ErrNotFound is returned when a session or prompt id does not exist.
var ErrNotFound = errors.New("record not found")
