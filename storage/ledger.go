package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Ledger remembers which network events the curator already reposted.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (or creates) the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`create table if not exists posted (
		event_id text primary key,
		category text not null,
		posted_at integer not null
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create posted table: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Posted reports whether eventID was recorded before.
func (l *Ledger) Posted(ctx context.Context, eventID string) (bool, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "select count(*) from posted where event_id = ?", eventID).Scan(&n); err != nil {
		return false, fmt.Errorf("query posted: %w", err)
	}
	return n > 0, nil
}

// Record marks eventID as posted. Recording twice is a no-op.
func (l *Ledger) Record(ctx context.Context, eventID, category string) error {
	_, err := l.db.ExecContext(ctx,
		"insert or ignore into posted (event_id, category, posted_at) values (?, ?, ?)",
		eventID, category, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert posted: %w", err)
	}
	return nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
