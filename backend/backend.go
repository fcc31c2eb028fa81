// Package backend defines the persistence contract the database core
// consumes. Implementations must make "persist entry + update tip indexes"
// atomic: no reader may observe an entry without its tip updates applied.
package backend

import (
	"context"
	"errors"

	"github.com/tesseradb/tessera/entry"
)

var (
	// ErrMissingParent rejects entries referencing parents unknown to the
	// backend. The sync layer recovers from it by backfilling; the core
	// treats it as terminal for the current operation.
	ErrMissingParent = errors.New("entry references an unknown parent")
	ErrNotFound      = errors.New("entry not found")
	ErrIO            = errors.New("backend io failure")
)

// Backend persists entries and maintains the main-line and per-store tip
// indexes. Entries are immutable once accepted: Put of an already known id
// is a no-op. Forks are an expected outcome, not an error, so Put performs
// no cross-transaction conflict detection.
type Backend interface {
	// Put atomically persists e and updates the tip indexes for its
	// database and every store it participates in.
	Put(ctx context.Context, e *entry.Entry) error
	// Get returns the entry by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*entry.Entry, error)
	// Has reports whether the entry is known.
	Has(ctx context.Context, id string) (bool, error)
	// GetTips returns the sorted main-line tips of a database.
	GetTips(ctx context.Context, root string) ([]string, error)
	// GetStoreTips returns the sorted tips of one store's scope.
	GetStoreTips(ctx context.Context, root, store string) ([]string, error)
	// AllRoots enumerates the root ids of all known databases.
	AllRoots(ctx context.Context) ([]string, error)
}
