package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/hogarfamiliar/catastro-cli/internal/db"
	"github.com/hogarfamiliar/catastro-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const getPropertySQL = `SELECT referencia_catastral, datos_xml, datos_json, lat, lon, fecha_consulta, fecha_actualizacion FROM consultas_catastro WHERE referencia_catastral = $1`

// propertyUpsert leaves fecha_consulta untouched on conflict so the row keeps
// its first-seen time.
var propertyUpsert = db.UpsertConfig{
	Table:        Table,
	Columns:      []string{"referencia_catastral", "datos_xml", "datos_json", "lat", "lon", "fecha_consulta", "fecha_actualizacion"},
	ConflictKeys: []string{"referencia_catastral"},
	UpdateCols:   []string{"datos_xml", "datos_json", "lat", "lon", "fecha_actualizacion"},
}

// getPropertyStmt names the prepared form of getPropertySQL. Pool queries pass
// the name as their SQL so every connection reuses the server-side plan.
const getPropertyStmt = "get_property"

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	getPropertyStmt: getPropertySQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS consultas_catastro (
	referencia_catastral VARCHAR(20) PRIMARY KEY,
	datos_xml            TEXT NOT NULL,
	datos_json           JSONB NOT NULL,
	lat                  DOUBLE PRECISION,
	lon                  DOUBLE PRECISION,
	fecha_consulta       TIMESTAMPTZ NOT NULL DEFAULT now(),
	fecha_actualizacion  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_consultas_catastro_actualizacion ON consultas_catastro(fecha_actualizacion);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetProperty(ctx context.Context, key string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	err := s.pool.QueryRow(ctx, getPropertyStmt, key).
		Scan(&e.Key, &e.RawXML, &e.Records, &e.Latitude, &e.Longitude, &e.FirstSeen, &e.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get property %s", key)
	}
	return &e, nil
}

func (s *PostgresStore) UpsertProperty(ctx context.Context, entry model.CacheEntry) error {
	updated := entry.LastUpdated.UTC()
	if entry.LastUpdated.IsZero() {
		updated = time.Now().UTC()
	}
	first := entry.FirstSeen.UTC()
	if entry.FirstSeen.IsZero() {
		first = updated
	}

	_, err := db.Upsert(ctx, s.pool, propertyUpsert,
		entry.Key, entry.RawXML, entry.Records, entry.Latitude, entry.Longitude, first, updated,
	)
	return eris.Wrapf(err, "postgres: upsert property %s", entry.Key)
}
