// Package pg implements the store interfaces on Postgres (managed mode).
// Schema is managed by `chatdesk migrate` using the files under
// migrations/postgres.
package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/chatdeskhq/chatdesk/internal/store"
)

// NewStores connects to Postgres and returns the store container.
func NewStores(dsn string) (*store.Stores, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Conversations: NewConversationStore(db),
		Messages:      NewMessageStore(db),
		Takeovers:     NewTakeoverStore(db),
		Ping:          db.PingContext,
		Close:         db.Close,
	}, nil
}

// OpenDB opens a pooled Postgres connection via the pgx stdlib driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func nilStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// staleIfNone maps "no rows changed" from a conditional update to ErrStale.
func staleIfNone(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrStale
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
