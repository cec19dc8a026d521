package store

import (
	"context"

	"github.com/hogarfamiliar/catastro-cli/internal/model"
)

// Table is the relational table backing the lookup cache.
const Table = "consultas_catastro"

// Store persists cached lookups keyed by canonical cadastral reference.
type Store interface {
	// GetProperty returns the stored entry for key, or nil when none exists.
	GetProperty(ctx context.Context, key string) (*model.CacheEntry, error)
	// UpsertProperty inserts or overwrites the entry for entry.Key. The
	// first-seen timestamp of an existing row is preserved.
	UpsertProperty(ctx context.Context, entry model.CacheEntry) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
