// Package capture persists intermediate pipeline state: the deduplicated
// raw-capture set and the normalized snapshot. Both survive crashes via
// temp-write + atomic rename, so an interrupted run resumes instead of
// refetching or re-normalizing everything.
package capture

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/admitdata/harvest-cli/internal/model"
)

// Store is the dedup and resume store for one capture file. It tolerates
// concurrent writers within a single run; cross-run concurrency is
// excluded by the ingestion gate.
type Store struct {
	path string

	// flushMu serializes snapshot commits. Flushes share one temp path,
	// so the write and rename of one commit must never interleave with
	// another's.
	flushMu sync.Mutex

	mu      sync.Mutex
	records []model.Record
	seen    map[string]struct{}
	pending int
	// flushEvery commits the snapshot after this many appends; 0 means
	// only explicit Flush calls commit.
	flushEvery int
}

// Open loads an existing capture file (if any) and seeds the dedup set
// from it. A missing file starts an empty store.
func Open(path string, flushEvery int) (*Store, error) {
	s := &Store{
		path:       path,
		seen:       make(map[string]struct{}),
		flushEvery: flushEvery,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "capture: read %s", path)
	}

	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, eris.Wrapf(err, "capture: decode %s", path)
	}
	for _, r := range s.records {
		if r.SourceID != "" {
			s.seen[r.SourceID] = struct{}{}
		}
	}

	zap.L().Info("capture: resumed from snapshot",
		zap.String("path", path),
		zap.Int("records", len(s.records)),
	)
	return s, nil
}

// Has reports whether a source ID is already captured.
func (s *Store) Has(sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[sourceID]
	return ok
}

// Len returns the number of captured records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// ExistingIDs returns a copy of the captured source ID set, used to seed
// resume at startup.
func (s *Store) ExistingIDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.seen))
	for id := range s.seen {
		ids[id] = struct{}{}
	}
	return ids
}

// Append adds one record. Appending an already-captured source ID is a
// no-op, so restarting a partial run never duplicates output. Returns
// true if the record was new.
func (s *Store) Append(rec model.Record) (bool, error) {
	if rec.SourceID == "" {
		return false, nil
	}

	s.mu.Lock()
	if _, dup := s.seen[rec.SourceID]; dup {
		s.mu.Unlock()
		return false, nil
	}
	s.seen[rec.SourceID] = struct{}{}
	s.records = append(s.records, rec)
	s.pending++
	needFlush := s.flushEvery > 0 && s.pending >= s.flushEvery
	if needFlush {
		s.pending = 0
	}
	s.mu.Unlock()

	if needFlush {
		return true, s.Flush()
	}
	return true, nil
}

// Records returns a snapshot copy of the captured records.
func (s *Store) Records() []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Flush commits the snapshot to disk: the full record set is written to a
// temp file and renamed over the target, so a crash leaves either the old
// or the new snapshot, never a torn one.
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	data, err := json.MarshalIndent(s.records, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return eris.Wrap(err, "capture: encode snapshot")
	}
	return atomicWrite(s.path, data)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "capture: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "capture: commit %s", path)
	}
	return nil
}

// SaveSnapshot atomically writes an arbitrary record collection, used for
// the normalized output artifact.
func SaveSnapshot(path string, records []model.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return eris.Wrap(err, "capture: encode snapshot")
	}
	return atomicWrite(path, data)
}

// LoadSnapshot reads a record collection written by SaveSnapshot or
// Flush, letting the loader run without a live fetch.
func LoadSnapshot(path string) ([]model.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "capture: read %s", path)
	}
	var records []model.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, eris.Wrapf(err, "capture: decode %s", path)
	}
	return records, nil
}
