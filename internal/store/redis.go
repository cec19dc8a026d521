package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/hogarfamiliar/catastro-cli/internal/model"
)

const redisKeyPrefix = "catastro:rc:"

// Hash fields of a cached lookup.
const (
	fieldXML       = "datos_xml"
	fieldJSON      = "datos_json"
	fieldLat       = "lat"
	fieldLon       = "lon"
	fieldFirstSeen = "fecha_consulta"
	fieldUpdated   = "fecha_actualizacion"
)

// RedisOptions configures the redis backend.
type RedisOptions struct {
	URL      string
	PoolSize int
}

// RedisStore implements Store with one redis hash per reference.
type RedisStore struct {
	client *redis.Client
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, eris.Wrap(err, "redis: parse url")
	}
	if opts.PoolSize > 0 {
		ropts.PoolSize = opts.PoolSize
	}

	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrap(err, "redis: ping")
	}
	return &RedisStore{client: client}, nil
}

// NewRedisFromClient wraps an existing client. The store takes ownership of it.
func NewRedisFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.client.Ping(ctx).Err(), "redis: ping")
}

// Migrate is a no-op: hashes need no schema.
func (s *RedisStore) Migrate(ctx context.Context) error {
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) GetProperty(ctx context.Context, key string) (*model.CacheEntry, error) {
	fields, err := s.client.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "redis: get property %s", key)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	e := model.CacheEntry{
		Key:       key,
		RawXML:    fields[fieldXML],
		Records:   []byte(fields[fieldJSON]),
		Latitude:  parseOptionalFloat(fields[fieldLat]),
		Longitude: parseOptionalFloat(fields[fieldLon]),
	}
	if e.FirstSeen, err = parseTime(fields[fieldFirstSeen]); err != nil {
		return nil, eris.Wrapf(err, "redis: property %s first seen", key)
	}
	if e.LastUpdated, err = parseTime(fields[fieldUpdated]); err != nil {
		return nil, eris.Wrapf(err, "redis: property %s last updated", key)
	}
	return &e, nil
}

// UpsertProperty overwrites the hash in one MULTI block; HSETNX keeps the
// first-seen time of an existing entry.
func (s *RedisStore) UpsertProperty(ctx context.Context, entry model.CacheEntry) error {
	updated := entry.LastUpdated.UTC()
	if entry.LastUpdated.IsZero() {
		updated = time.Now().UTC()
	}
	first := entry.FirstSeen.UTC()
	if entry.FirstSeen.IsZero() {
		first = updated
	}

	key := redisKeyPrefix + entry.Key
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldFirstSeen, first.Format(time.RFC3339Nano))
		pipe.HSet(ctx, key,
			fieldXML, entry.RawXML,
			fieldJSON, string(entry.Records),
			fieldLat, formatOptionalFloat(entry.Latitude),
			fieldLon, formatOptionalFloat(entry.Longitude),
			fieldUpdated, updated.Format(time.RFC3339Nano),
		)
		return nil
	})
	return eris.Wrapf(err, "redis: upsert property %s", entry.Key)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func formatOptionalFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func parseOptionalFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
