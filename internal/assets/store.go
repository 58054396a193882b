// Package assets provides the reference store for tradable instruments.
//
// Every bar write is checked against this store: the symbol must exist and
// its registered asset class must match the series being written. The store
// is backed by DuckDB.
package assets

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	apperrors "github.com/quantarchive/bardb/internal/errors"
	"github.com/quantarchive/bardb/internal/storage/types"
)

// Asset is one registered instrument.
type Asset struct {
	Symbol    string
	Class     types.AssetClass
	Name      string
	Exchange  string
	Currency  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store provides asset reference data operations.
//
// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the asset database at path. An empty path opens
// an in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// initSchema creates the assets table. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS assets (
			symbol     VARCHAR PRIMARY KEY,
			class      VARCHAR NOT NULL,
			name       VARCHAR NOT NULL DEFAULT '',
			exchange   VARCHAR NOT NULL DEFAULT '',
			currency   VARCHAR NOT NULL DEFAULT 'USD',
			active     BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`)
	return err
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// Upsert inserts or updates an asset. The class of an existing asset may
// not change; re-registering a symbol under a different class fails.
func (s *Store) Upsert(ctx context.Context, a *Asset) error {
	if a.Symbol == "" {
		return apperrors.ErrMissingSymbol
	}

	existing, err := s.Lookup(ctx, a.Symbol)
	if err == nil && existing.Class != a.Class {
		return fmt.Errorf("symbol %s registered as %s: %w",
			a.Symbol, existing.Class, apperrors.ErrAssetMismatch)
	}

	now := time.Now().UTC()
	createdAt := now
	if existing != nil {
		createdAt = existing.CreatedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assets (symbol, class, name, exchange, currency, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol) DO UPDATE SET
			name = excluded.name,
			exchange = excluded.exchange,
			currency = excluded.currency,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		a.Symbol, a.Class.String(), a.Name, a.Exchange, a.Currency, a.Active, createdAt, now)
	if err != nil {
		return fmt.Errorf("upsert asset %s: %w", a.Symbol, err)
	}

	return nil
}

// Lookup returns the asset registered under symbol.
func (s *Store) Lookup(ctx context.Context, symbol string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, class, name, exchange, currency, active, created_at, updated_at
		FROM assets WHERE symbol = ?`, symbol)

	var a Asset
	var classStr string
	err := row.Scan(&a.Symbol, &classStr, &a.Name, &a.Exchange, &a.Currency,
		&a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("symbol %s: %w", symbol, apperrors.ErrUnknownAsset)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup asset %s: %w", symbol, err)
	}

	a.Class, err = types.ParseAssetClass(classStr)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", symbol, err)
	}

	return &a, nil
}

// ListActive returns all active assets of one class, ordered by symbol.
func (s *Store) ListActive(ctx context.Context, class types.AssetClass) ([]Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, class, name, exchange, currency, active, created_at, updated_at
		FROM assets WHERE active AND class = ? ORDER BY symbol`, class.String())
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []Asset
	for rows.Next() {
		var a Asset
		var classStr string
		if err := rows.Scan(&a.Symbol, &classStr, &a.Name, &a.Exchange, &a.Currency,
			&a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		if a.Class, err = types.ParseAssetClass(classStr); err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	return out, rows.Err()
}

// Deactivate marks an asset inactive. Bars already stored are unaffected;
// only new writes are refused elsewhere.
func (s *Store) Deactivate(ctx context.Context, symbol string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE assets SET active = FALSE, updated_at = ? WHERE symbol = ?`,
		time.Now().UTC(), symbol)
	if err != nil {
		return fmt.Errorf("deactivate asset %s: %w", symbol, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("symbol %s: %w", symbol, apperrors.ErrUnknownAsset)
	}
	return nil
}

// Count returns the number of registered assets.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`).Scan(&n)
	return n, err
}
