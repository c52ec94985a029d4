package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_meta (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    length INTEGER NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    idx INTEGER PRIMARY KEY,
    text TEXT NOT NULL
);
`

// SQLiteStore keeps the ledger in a SQLite database. Only Done slots are
// stored as rows; the ledger length lives in ledger_meta. Each Save is one
// transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Location returns the database path.
func (s *SQLiteStore) Location() string {
	return s.path
}

// Load reads the ledger length and every Done row.
func (s *SQLiteStore) Load(ctx context.Context) (Entries, error) {
	var length int
	err := s.db.QueryRowContext(ctx, "SELECT length FROM ledger_meta WHERE id = 1").Scan(&length)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger length: %w", err)
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrCorrupt, length)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT idx, text FROM ledger_entries ORDER BY idx")
	if err != nil {
		return nil, fmt.Errorf("read ledger entries: %w", err)
	}
	defer rows.Close()

	e := NewEntries(length)
	for rows.Next() {
		var (
			idx  int
			text string
		)
		if err := rows.Scan(&idx, &text); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if idx < 0 || idx >= length {
			return nil, fmt.Errorf("%w: entry %d outside length %d", ErrCorrupt, idx, length)
		}
		e[idx] = Text(text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return e, nil
}

// Save replaces the stored ledger in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, e Entries) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_meta (id, length, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET length = excluded.length, updated_at = CURRENT_TIMESTAMP`,
		len(e)); err != nil {
		return fmt.Errorf("write ledger length: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM ledger_entries"); err != nil {
		return fmt.Errorf("clear ledger entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO ledger_entries (idx, text) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("prepare ledger insert: %w", err)
	}
	defer stmt.Close()

	for i, text := range e {
		if text == nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, i, *text); err != nil {
			return fmt.Errorf("write ledger entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
