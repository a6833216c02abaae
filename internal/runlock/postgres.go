package runlock

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// PostgresLocker uses a session-scoped advisory lock.
//
// The lock lives on a dedicated connection checked out for the duration of
// the run. If the process dies, Postgres drops the session and with it the
// lock, so a crashed run never blocks the next one.
type PostgresLocker struct {
	db  *sql.DB
	key int64
}

func NewPostgresLocker(db *sql.DB, key int64) *PostgresLocker {
	return &PostgresLocker{db: db, key: key}
}

func (l *PostgresLocker) Acquire(ctx context.Context) (func(), error) {
	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire dedicated connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("advisory lock query: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, ErrHeld
	}

	release := func() {
		// Background context: release must run even when the run's ctx is done.
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.key); err != nil {
			log.Printf("runlock: advisory unlock failed key=%d: %v", l.key, err)
		}
		conn.Close()
	}
	return release, nil
}
