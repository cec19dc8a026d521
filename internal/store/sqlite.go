package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/hogarfamiliar/catastro-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS consultas_catastro (
	referencia_catastral TEXT PRIMARY KEY,
	datos_xml            TEXT NOT NULL,
	datos_json           TEXT NOT NULL,
	lat                  REAL,
	lon                  REAL,
	fecha_consulta       DATETIME NOT NULL DEFAULT (datetime('now')),
	fecha_actualizacion  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_consultas_catastro_actualizacion ON consultas_catastro(fecha_actualizacion);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetProperty(ctx context.Context, key string) (*model.CacheEntry, error) {
	var (
		e        model.CacheEntry
		records  string
		lat, lon sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT referencia_catastral, datos_xml, datos_json, lat, lon, fecha_consulta, fecha_actualizacion
		 FROM consultas_catastro WHERE referencia_catastral = ?`,
		key,
	).Scan(&e.Key, &e.RawXML, &records, &lat, &lon, &e.FirstSeen, &e.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get property %s", key)
	}

	e.Records = []byte(records)
	e.Latitude = nullFloat(lat)
	e.Longitude = nullFloat(lon)
	return &e, nil
}

func (s *SQLiteStore) UpsertProperty(ctx context.Context, entry model.CacheEntry) error {
	updated := entry.LastUpdated.UTC()
	if entry.LastUpdated.IsZero() {
		updated = time.Now().UTC()
	}
	first := entry.FirstSeen.UTC()
	if entry.FirstSeen.IsZero() {
		first = updated
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consultas_catastro
			(referencia_catastral, datos_xml, datos_json, lat, lon, fecha_consulta, fecha_actualizacion)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(referencia_catastral) DO UPDATE SET
			datos_xml = excluded.datos_xml,
			datos_json = excluded.datos_json,
			lat = excluded.lat,
			lon = excluded.lon,
			fecha_actualizacion = excluded.fecha_actualizacion`,
		entry.Key, entry.RawXML, string(entry.Records), entry.Latitude, entry.Longitude, first, updated,
	)
	return eris.Wrapf(err, "sqlite: upsert property %s", entry.Key)
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}
