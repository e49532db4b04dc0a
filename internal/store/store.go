// Package store defines the persistence boundary the dispatcher talks to
// after a successful dispatch: recording which messages were read and
// cleaning up the upstream unread backlog.
package store

import "context"

// ReadStore receives mark-read batches and cleanup calls. Implementations
// must be safe for concurrent use across streams.
type ReadStore interface {
	// MarkRead records that the given message ids were processed for a
	// stream. Idempotent: re-marking an id is not an error.
	MarkRead(ctx context.Context, streamID string, messageIDs []string) error

	// CleanupUnread tells the backing chat-history store that the
	// stream's processed backlog can be dropped.
	CleanupUnread(ctx context.Context, streamID string) error

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Mode        string // "file" (default) or "pg"
	PostgresDSN string
	FileDir     string
}
