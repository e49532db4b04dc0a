// Package file implements the read-mark store as per-stream JSON files.
package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// maxMarksPerStream caps the per-stream read log; oldest ids drop first.
const maxMarksPerStream = 10000

// readLog is the on-disk record for one stream.
type readLog struct {
	StreamID  string    `json:"stream_id"`
	ReadIDs   []string  `json:"read_ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadStore implements store.ReadStore with one JSON file per stream.
type ReadStore struct {
	mu  sync.Mutex
	dir string
}

// New creates the storage directory and returns the store.
func New(dir string) (*ReadStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &ReadStore{dir: dir}, nil
}

// MarkRead appends ids to the stream's read log, dropping duplicates.
func (s *ReadStore) MarkRead(ctx context.Context, streamID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.load(streamID)
	seen := make(map[string]bool, len(log.ReadIDs))
	for _, id := range log.ReadIDs {
		seen[id] = true
	}
	for _, id := range messageIDs {
		if !seen[id] {
			log.ReadIDs = append(log.ReadIDs, id)
			seen[id] = true
		}
	}
	if len(log.ReadIDs) > maxMarksPerStream {
		log.ReadIDs = log.ReadIDs[len(log.ReadIDs)-maxMarksPerStream:]
	}
	log.UpdatedAt = time.Now()

	return s.save(log)
}

// CleanupUnread truncates the stream's read log entirely; the in-memory
// state is authoritative for what's still unread.
func (s *ReadStore) CleanupUnread(ctx context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.load(streamID)
	if len(log.ReadIDs) <= maxMarksPerStream/2 {
		return nil
	}
	log.ReadIDs = log.ReadIDs[len(log.ReadIDs)-maxMarksPerStream/2:]
	log.UpdatedAt = time.Now()
	return s.save(log)
}

// Close is a no-op for the file backend.
func (s *ReadStore) Close() error { return nil }

func (s *ReadStore) load(streamID string) *readLog {
	data, err := os.ReadFile(s.path(streamID))
	if err != nil {
		return &readLog{StreamID: streamID}
	}
	var log readLog
	if err := json.Unmarshal(data, &log); err != nil {
		return &readLog{StreamID: streamID}
	}
	return &log
}

// save writes atomically: temp file, then rename.
func (s *ReadStore) save(log *readLog) error {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "marks-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, s.path(log.StreamID)); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (s *ReadStore) path(streamID string) string {
	name := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(streamID)
	return filepath.Join(s.dir, name+".json")
}
