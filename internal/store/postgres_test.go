package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hogarfamiliar/catastro-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var propertyColumns = []string{"referencia_catastral", "datos_xml", "datos_json", "lat", "lon", "fecha_consulta", "fecha_actualizacion"}

func TestPostgresStore_GetProperty_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`^get_property$`).
		WithArgs("0395809VK6709N0035KW").
		WillReturnError(pgx.ErrNoRows)

	e, err := s.GetProperty(context.Background(), "0395809VK6709N0035KW")
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProperty_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := first.Add(time.Hour)
	lat, lon := 38.35, 0.49

	mock.ExpectQuery(`^get_property$`).
		WithArgs("0395809VK6709N0035KW").
		WillReturnRows(pgxmock.NewRows(propertyColumns).AddRow(
			"0395809VK6709N0035KW", "<consulta_dnp/>", []byte(`[]`), &lat, &lon, first, updated,
		))

	e, err := s.GetProperty(context.Background(), "0395809VK6709N0035KW")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "<consulta_dnp/>", e.RawXML)
	assert.Equal(t, `[]`, string(e.Records))
	require.NotNil(t, e.Latitude)
	assert.InDelta(t, 38.35, *e.Latitude, 1e-9)
	assert.Equal(t, first, e.FirstSeen)
	assert.Equal(t, updated, e.LastUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProperty_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`^get_property$`).
		WithArgs("0395809VK6709N0035KW").
		WillReturnError(errors.New("connection refused"))

	_, err := s.GetProperty(context.Background(), "0395809VK6709N0035KW")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: get property")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreparedStatements_GetProperty(t *testing.T) {
	assert.Equal(t, getPropertySQL, preparedStatements[getPropertyStmt])
	assert.Contains(t, getPropertySQL, "WHERE referencia_catastral = $1")
}

func TestPostgresStore_UpsertProperty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO "consultas_catastro" .* ON CONFLICT \("referencia_catastral"\) DO UPDATE SET "datos_xml" = EXCLUDED\."datos_xml", "datos_json" = EXCLUDED\."datos_json", "lat" = EXCLUDED\."lat", "lon" = EXCLUDED\."lon", "fecha_actualizacion" = EXCLUDED\."fecha_actualizacion"$`).
		WithArgs("0395809VK6709N0035KW", "<consulta_dnp/>", []byte(`[]`), (*float64)(nil), (*float64)(nil), now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertProperty(context.Background(), model.CacheEntry{
		Key:         "0395809VK6709N0035KW",
		RawXML:      "<consulta_dnp/>",
		Records:     []byte(`[]`),
		LastUpdated: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertProperty_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).WillReturnError(errors.New("disk full"))

	err := s.UpsertProperty(context.Background(), model.CacheEntry{Key: "0395809VK6709N0035KW"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: upsert property 0395809VK6709N0035KW")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS consultas_catastro`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectPing()

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgres_BadConnString(t *testing.T) {
	_, err := NewPostgres(context.Background(), "postgres://%zz", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: parse config")
}

var _ Store = (*PostgresStore)(nil)
