// Package cache implements the TTL-bounded lookup cache in front of a store
// backend. Backend faults never reach the caller: reads degrade to a miss and
// writes are skipped.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/hogarfamiliar/catastro-cli/internal/metrics"
	"github.com/hogarfamiliar/catastro-cli/internal/model"
)

// Backend is the keyed persistence the cache needs. store.Store satisfies it.
type Backend interface {
	GetProperty(ctx context.Context, key string) (*model.CacheEntry, error)
	UpsertProperty(ctx context.Context, entry model.CacheEntry) error
}

// Options configures a Store.
type Options struct {
	Enabled bool
	TTL     time.Duration
	// Now overrides the clock; defaults to time.Now.
	Now     func() time.Time
	Metrics *metrics.Metrics
}

// Store is the lookup cache. A nil *Store behaves as a disabled cache.
type Store struct {
	backend Backend
	enabled bool
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

// New returns a cache over backend. A nil backend disables the cache.
func New(backend Backend, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		backend: backend,
		enabled: opts.Enabled && backend != nil,
		ttl:     opts.TTL,
		now:     opts.Now,
		metrics: opts.Metrics,
	}
}

// Enabled reports whether lookups and writes reach the backend.
func (s *Store) Enabled() bool {
	return s != nil && s.enabled
}

// TTL returns the freshness window.
func (s *Store) TTL() time.Duration {
	if s == nil {
		return 0
	}
	return s.ttl
}

// Get returns the cached records for key when an entry exists and is
// younger than the TTL. Stale entries are left in place.
func (s *Store) Get(ctx context.Context, key string) ([]model.Property, bool) {
	if !s.Enabled() {
		return nil, false
	}

	entry, err := s.backend.GetProperty(ctx, key)
	if err != nil {
		zap.L().Warn("cache: lookup failed, treating as miss",
			zap.String("referencia", key),
			zap.Error(err),
		)
		s.metrics.CacheLookup("error")
		return nil, false
	}
	if entry == nil {
		s.metrics.CacheLookup("miss")
		return nil, false
	}
	if !s.Fresh(entry) {
		zap.L().Debug("cache: entry is stale",
			zap.String("referencia", key),
			zap.Time("last_updated", entry.LastUpdated),
		)
		s.metrics.CacheLookup("stale")
		return nil, false
	}

	var records []model.Property
	if err := json.Unmarshal(entry.Records, &records); err != nil || len(records) == 0 {
		zap.L().Warn("cache: unreadable entry, treating as miss",
			zap.String("referencia", key),
			zap.Error(err),
		)
		s.metrics.CacheLookup("error")
		return nil, false
	}

	s.metrics.CacheLookup("hit")
	return records, true
}

// Put upserts records and the raw payload they came from, stamping the entry
// with the current time. Failures are logged and dropped.
func (s *Store) Put(ctx context.Context, key string, records []model.Property, rawXML []byte) {
	if !s.Enabled() {
		return
	}

	data, err := json.Marshal(records)
	if err != nil {
		zap.L().Warn("cache: marshal records", zap.String("referencia", key), zap.Error(err))
		s.metrics.CacheWrite("error")
		return
	}

	entry := model.CacheEntry{
		Key:         key,
		RawXML:      string(rawXML),
		Records:     data,
		LastUpdated: s.now().UTC(),
	}
	if len(records) > 0 {
		entry.Latitude = records[0].Latitude
		entry.Longitude = records[0].Longitude
	}

	if err := s.backend.UpsertProperty(ctx, entry); err != nil {
		zap.L().Warn("cache: write failed, skipping",
			zap.String("referencia", key),
			zap.Error(err),
		)
		s.metrics.CacheWrite("error")
		return
	}
	s.metrics.CacheWrite("ok")
}

// Fresh reports whether entry is still inside the TTL window.
func (s *Store) Fresh(entry *model.CacheEntry) bool {
	if s == nil || entry == nil {
		return false
	}
	return s.now().Sub(entry.LastUpdated) < s.ttl
}

// Inspect returns the raw stored entry regardless of freshness. It reports
// backend errors, unlike Get.
func (s *Store) Inspect(ctx context.Context, key string) (*model.CacheEntry, error) {
	if s == nil || s.backend == nil {
		return nil, nil
	}
	return s.backend.GetProperty(ctx, key)
}
