package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"perpcore/internal/keys"
	"perpcore/internal/perperr"
)

// PostgresStore is a Postgres-backed AccountStore. Commit upserts the whole
// batch with a single multi-row INSERT inside one transaction, so a failed
// commit leaves no partial writes behind.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with the given DSN and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the underlying pool so the transition log can share it.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Get(ctx context.Context, address keys.Address) (Record, error) {
	var r Record
	var addr, owner []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT address, owner, data FROM perp.accounts WHERE address = $1`,
		address[:],
	).Scan(&addr, &owner, &r.Data)
	if err == sql.ErrNoRows {
		return Record{}, fmt.Errorf("account %s: %w", address, perperr.ErrNotInitialized)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get account %s: %w", address, err)
	}

	a, err := keys.AddressFromBytes(addr)
	if err != nil {
		return Record{}, fmt.Errorf("stored address: %w", err)
	}
	o, err := keys.AddressFromBytes(owner)
	if err != nil {
		return Record{}, fmt.Errorf("stored owner: %w", err)
	}
	r.Address = a
	r.Owner = o
	return r, nil
}

func (s *PostgresStore) Has(ctx context.Context, address keys.Address) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM perp.accounts WHERE address = $1`, address[:],
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has account %s: %w", address, err)
	}
	return true, nil
}

func (s *PostgresStore) Commit(ctx context.Context, batch *WriteBatch) error {
	records := batch.Records()
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO perp.accounts (address, owner, data, updated_at) VALUES `
	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*3)

	for i, r := range records {
		base := i * 3
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, NOW())", base+1, base+2, base+3))
		args = append(args, r.Address[:], r.Owner[:], r.Data)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (address) DO UPDATE SET
		owner = EXCLUDED.owner, data = EXCLUDED.data, updated_at = NOW()`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("commit batch of %d: %w", len(records), err)
	}
	return tx.Commit()
}
