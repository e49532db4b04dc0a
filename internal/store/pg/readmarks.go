// Package pg implements the read-mark store on Postgres.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// readMarkRetention bounds how long processed marks are kept; CleanupUnread
// trims anything older for the stream.
const readMarkRetention = 30 * 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS read_marks (
	id         UUID PRIMARY KEY,
	stream_id  TEXT NOT NULL,
	message_id TEXT NOT NULL,
	read_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (stream_id, message_id)
);
CREATE INDEX IF NOT EXISTS read_marks_stream_idx ON read_marks (stream_id, read_at);
`

// ReadStore implements store.ReadStore backed by Postgres.
type ReadStore struct {
	db *sql.DB
}

// New opens a Postgres connection, ensures the schema, and returns the
// store.
func New(dsn string) (*ReadStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &ReadStore{db: db}, nil
}

// MarkRead inserts one mark per message id; conflicts are ignored so
// retried batches stay idempotent.
func (s *ReadStore) MarkRead(ctx context.Context, streamID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO read_marks (id, stream_id, message_id)
		 VALUES ($1, $2, $3) ON CONFLICT (stream_id, message_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, msgID := range messageIDs {
		if _, err := stmt.ExecContext(ctx, uuid.Must(uuid.NewV7()), streamID, msgID); err != nil {
			return fmt.Errorf("mark %s: %w", msgID, err)
		}
	}
	return tx.Commit()
}

// CleanupUnread trims marks past retention for the stream.
func (s *ReadStore) CleanupUnread(ctx context.Context, streamID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM read_marks WHERE stream_id = $1 AND read_at < $2`,
		streamID, time.Now().Add(-readMarkRetention))
	return err
}

// Close releases the connection pool.
func (s *ReadStore) Close() error {
	return s.db.Close()
}
