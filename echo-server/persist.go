package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"
)

// entry is one echoed frame as kept in history.
type entry struct {
	TS      time.Time `json:"ts"`
	Session string    `json:"session"`
	Text    string    `json:"text"`
}

// transcriptStore persists entries in a PebbleDB key-value store.
// Keys are 8-byte big-endian sequence numbers increasing monotonically.
type transcriptStore struct {
	db   *pebble.DB
	mu   sync.Mutex
	next uint64
}

func openTranscriptStore(dir string) (*transcriptStore, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	s := &transcriptStore{db: db}
	it, err := db.NewIter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("new iter: %w", err)
	}
	defer func() { _ = it.Close() }()
	if it.Last() && len(it.Key()) >= 8 {
		s.next = binary.BigEndian.Uint64(it.Key()[:8]) + 1
	}
	return s, nil
}

func (s *transcriptStore) Append(e entry) error {
	if s == nil || s.db == nil {
		return nil
	}
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, s.next)
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return err
	}
	s.next++
	return nil
}

// LoadRecent returns up to limit of the newest entries, oldest first.
// A limit <= 0 loads everything.
func (s *transcriptStore) LoadRecent(limit int) ([]entry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	it, err := s.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var out []entry
	for valid := it.Last(); valid; valid = it.Prev() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var e entry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *transcriptStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
