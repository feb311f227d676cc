// Package state persists the fingerprint-keyed record of items the daemon
// has already organized, so unchanged items cost no API calls on later
// cycles.
//
// The store has a single writer by construction: one process, one cycle at a
// time. Running multiple process instances against the same state file is
// unsupported.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/shopsync/internal/synerr"
)

const storeVersion = 1

// Record is the last-known handling of one content fingerprint.
type Record struct {
	Category  string    `json:"category"`
	LastSeen  time.Time `json:"last_seen"`
	Processed bool      `json:"processed"`
}

// Store holds records in memory between Load and Save. It is not safe for
// concurrent use; the orchestrator serializes cycles.
type Store struct {
	path     string
	records  map[string]Record
	lastSync time.Time
}

type document struct {
	Version  int               `json:"version"`
	LastSync time.Time         `json:"last_sync"`
	Records  map[string]Record `json:"records"`
}

// Load reads the state file at path. A missing file yields an empty store.
// Corrupt data also yields an empty, usable store alongside a
// synerr.KindStateCorrupt error: the caller decides whether to log and
// continue (the orchestrator does) or abort.
func Load(path string) (*Store, error) {
	s := &Store{path: path, records: make(map[string]Record)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, synerr.Wrap(synerr.KindStateCorrupt, "read state", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return s, synerr.Wrap(synerr.KindStateCorrupt, "decode state", err)
	}
	if doc.Records != nil {
		s.records = doc.Records
	}
	s.lastSync = doc.LastSync
	return s, nil
}

// Save writes the store atomically: the document goes to a temp file in the
// target directory which is then renamed over the previous file, so a crash
// mid-write never leaves a half-written store behind.
func (s *Store) Save() error {
	s.lastSync = time.Now().UTC()
	doc := document{Version: storeVersion, LastSync: s.lastSync, Records: s.records}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return synerr.Wrap(synerr.KindStatePersist, "encode state", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return synerr.Wrap(synerr.KindStatePersist, "create state directory", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return synerr.Wrap(synerr.KindStatePersist, "create temp state file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return synerr.Wrap(synerr.KindStatePersist, "write temp state file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return synerr.Wrap(synerr.KindStatePersist, "sync temp state file", err)
	}
	if err := tmp.Close(); err != nil {
		return synerr.Wrap(synerr.KindStatePersist, "close temp state file", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return synerr.Wrap(synerr.KindStatePersist, "rename state file", err)
	}
	return nil
}

// Get returns the record for a fingerprint.
func (s *Store) Get(fingerprint string) (Record, bool) {
	r, ok := s.records[fingerprint]
	return r, ok
}

// Upsert creates or replaces the record for a fingerprint. At most one
// record exists per fingerprint.
func (s *Store) Upsert(fingerprint string, r Record) {
	if fingerprint == "" {
		return
	}
	s.records[fingerprint] = r
}

// Len is the number of records.
func (s *Store) Len() int { return len(s.records) }

// LastSync is the wall-clock time of the last successful Save.
func (s *Store) LastSync() time.Time { return s.lastSync }

// Path is the backing file location.
func (s *Store) Path() string { return s.path }

// PruneBefore removes records whose LastSeen is older than cutoff and
// returns how many were dropped. Records are otherwise never deleted; this
// hook is invoked only by an explicit operator command, never by the cycle.
func (s *Store) PruneBefore(cutoff time.Time) int {
	pruned := 0
	for fp, r := range s.records {
		if r.LastSeen.Before(cutoff) {
			delete(s.records, fp)
			pruned++
		}
	}
	return pruned
}

// CheckWritable verifies the state path's directory can be created and
// written to. Used by the health check without touching the state file.
func (s *Store) CheckWritable() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state directory not creatable: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("state directory not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}
