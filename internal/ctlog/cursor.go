package ctlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/burakozcn01/certstream-server-go/pkg/utils"
)

// CursorStore persists log_id -> next_index to a single JSON document
// with atomic (temp file + rename) writes. Reads are copy-out; writes
// are serialized through the store's mutex, per spec.md §5.
type CursorStore struct {
	path string
	log  *logrus.Entry

	mu               sync.Mutex
	cursors          map[string]uint64
	dirty            bool
	lastSave         time.Time
	entriesSinceSave int
}

// NewCursorStore loads path if it exists. A missing or corrupt file is
// treated as an empty cursor set (WARN on corruption), never an error
// — per spec.md §4.2 and §7.
func NewCursorStore(path string, log *logrus.Entry) *CursorStore {
	s := &CursorStore{
		path:     path,
		log:      log,
		cursors:  make(map[string]uint64),
		lastSave: time.Now(),
	}
	if path == "" {
		return s
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).Warn("cursor file unreadable, starting with empty cursor set")
		}
		return s
	}

	var loaded map[string]uint64
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.WithError(err).Warn("cursor file corrupt, starting with empty cursor set")
		return s
	}
	s.cursors = loaded
	return s
}

// Get returns the stored next_index for a log, if any.
func (s *CursorStore) Get(logID string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cursors[logID]
	return v, ok
}

// Advance sets the in-memory cursor for a log. The caller (the log
// worker) exclusively owns this value; the store only serializes
// writes to disk.
func (s *CursorStore) Advance(logID string, nextIndex uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cursors[logID]
	if ok && nextIndex <= cur {
		return
	}
	s.cursors[logID] = nextIndex
	s.dirty = true
	s.entriesSinceSave++
}

// MaybeCheckpoint flushes to disk if the store is dirty and either the
// checkpoint interval has elapsed or entriesThreshold entries have
// accumulated since the last save, whichever comes first.
func (s *CursorStore) MaybeCheckpoint(interval time.Duration, entriesThreshold int) error {
	s.mu.Lock()
	due := s.dirty && (time.Since(s.lastSave) >= interval || s.entriesSinceSave >= entriesThreshold)
	s.mu.Unlock()
	if !due {
		return nil
	}
	return s.Flush()
}

// Flush writes the current cursor set unconditionally, used on clean
// shutdown (spec.md §5 step 5) and by MaybeCheckpoint.
func (s *CursorStore) Flush() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	snapshot := make(map[string]uint64, len(s.cursors))
	for k, v := range s.cursors {
		snapshot[k] = v
	}
	s.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal cursor state: %w", err)
	}
	if err := utils.SafeWriteFile(s.path, data, 0o644); err != nil {
		s.log.WithError(err).Error("failed to write cursor file, keeping in-memory cursor")
		return err
	}

	s.mu.Lock()
	s.dirty = false
	s.lastSave = time.Now()
	s.entriesSinceSave = 0
	s.mu.Unlock()
	return nil
}
