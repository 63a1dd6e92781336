// Package store holds idempotent record stores used by write steps.
//
// Records are grouped in collections and keyed by ID. Put creates a record
// only if its ID is new and reports whether it did, which lets write steps
// detect replays at the storage boundary.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a missing record.
var ErrNotFound = errors.New("store: record not found")

// Record is one stored item.
type Record struct {
	Collection string
	ID         string
	Data       []byte
}

// Records is an idempotent record store.
type Records interface {
	// Put stores rec unless a record with the same collection and ID
	// exists. created is false for a replay; the stored data is unchanged.
	Put(ctx context.Context, rec Record) (created bool, err error)

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Record, error)

	// List returns every record in collection, ordered by ID.
	List(ctx context.Context, collection string) ([]Record, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, collection, id string) error
}
