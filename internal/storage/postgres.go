package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/stableyield-index/internal/model"
)

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS syi_history (
	as_of_date          DATE PRIMARY KEY,
	syi_decimal         DOUBLE PRECISION NOT NULL,
	syi_percent         DOUBLE PRECISION NOT NULL,
	methodology_version TEXT NOT NULL,
	components_count    INTEGER NOT NULL,
	components          JSONB NOT NULL,
	calculated_at       TIMESTAMPTZ NOT NULL,
	hash                TEXT,
	signature           TEXT,
	public_key          TEXT
)`

const upsertHistory = `
INSERT INTO syi_history (
	as_of_date, syi_decimal, syi_percent, methodology_version,
	components_count, components, calculated_at, hash, signature, public_key
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (as_of_date) DO UPDATE SET
	syi_decimal         = EXCLUDED.syi_decimal,
	syi_percent         = EXCLUDED.syi_percent,
	methodology_version = EXCLUDED.methodology_version,
	components_count    = EXCLUDED.components_count,
	components          = EXCLUDED.components,
	calculated_at       = EXCLUDED.calculated_at,
	hash                = EXCLUDED.hash,
	signature           = EXCLUDED.signature,
	public_key          = EXCLUDED.public_key
WHERE EXCLUDED.calculated_at >= syi_history.calculated_at`

const selectLatest = `
SELECT to_char(as_of_date, 'YYYY-MM-DD') AS as_of_date, syi_decimal, syi_percent,
       methodology_version, components_count, components, calculated_at,
       COALESCE(hash, '') AS hash, COALESCE(signature, '') AS signature,
       COALESCE(public_key, '') AS public_key
FROM syi_history
ORDER BY calculated_at DESC
LIMIT 1`

// PostgresStore persists SYI history in Postgres. The upsert keyed by
// as_of_date makes retries idempotent with last-write-wins by timestamp.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to Postgres with the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &PostgresStore{db: db}, nil
}

// Initialize creates the history table if it does not exist.
func (p *PostgresStore) Initialize(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createHistoryTable); err != nil {
		return fmt.Errorf("creating syi_history: %w", err)
	}
	logrus.Debug("Postgres storage initialized")
	return nil
}

// Save upserts one record. The full components list is stored as JSONB for
// later audit/replay.
func (p *PostgresStore) Save(ctx context.Context, record Record) error {
	components, err := json.Marshal(record.Result.Components)
	if err != nil {
		return fmt.Errorf("marshaling components: %w", err)
	}

	_, err = p.db.ExecContext(ctx, upsertHistory,
		record.Result.AsOfDate,
		record.Result.SYIDecimal,
		record.Result.SYIPercent,
		record.Result.MethodologyVersion,
		record.Result.ComponentsCount,
		components,
		record.Result.CalculatedAt,
		record.Hash,
		record.Signature,
		record.PublicKey,
	)
	if err != nil {
		return fmt.Errorf("storing SYI result for %s: %w", record.Result.AsOfDate, err)
	}
	return nil
}

// Latest returns the most recently calculated record.
func (p *PostgresStore) Latest(ctx context.Context) (Record, error) {
	var row struct {
		AsOfDate           string       `db:"as_of_date"`
		SYIDecimal         float64      `db:"syi_decimal"`
		SYIPercent         float64      `db:"syi_percent"`
		MethodologyVersion string       `db:"methodology_version"`
		ComponentsCount    int          `db:"components_count"`
		Components         []byte       `db:"components"`
		CalculatedAt       sql.NullTime `db:"calculated_at"`
		Hash               string       `db:"hash"`
		Signature          string       `db:"signature"`
		PublicKey          string       `db:"public_key"`
	}

	if err := p.db.GetContext(ctx, &row, selectLatest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNoResult
		}
		return Record{}, fmt.Errorf("loading latest SYI result: %w", err)
	}

	var components []model.SYIComponent
	if err := json.Unmarshal(row.Components, &components); err != nil {
		return Record{}, fmt.Errorf("unmarshaling components: %w", err)
	}

	record := Record{
		Result: model.SYIResult{
			AsOfDate:           row.AsOfDate,
			SYIDecimal:         row.SYIDecimal,
			SYIPercent:         row.SYIPercent,
			MethodologyVersion: row.MethodologyVersion,
			ComponentsCount:    row.ComponentsCount,
			Components:         components,
		},
		Hash:      row.Hash,
		Signature: row.Signature,
		PublicKey: row.PublicKey,
	}
	if row.CalculatedAt.Valid {
		record.Result.CalculatedAt = row.CalculatedAt.Time
	}
	return record, nil
}

// Close releases the underlying connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
