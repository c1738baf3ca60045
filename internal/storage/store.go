package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// LedgerStore persists the usage ledger as one table. Every Save replaces
// the whole table; there is a single writer and any number of readers, and
// implementations make each Save visible to readers all at once.
type LedgerStore interface {
	// Load reads every record. A table that does not exist yet yields an
	// empty result and no error. Entries that cannot be decoded are reported
	// in LoadResult.Skipped and do not stop the load.
	Load(ctx context.Context) (LoadResult, error)

	// Save replaces the persisted table with records.
	Save(ctx context.Context, records []UsageRecord) error

	// Location describes where the table lives, for diagnostics.
	Location() string

	Close() error
}
