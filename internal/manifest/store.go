package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store persists manifests as JSON files, one per corpus. Writes
// stage through a temp file and rename, so a reader never observes a
// half-written manifest.
type Store struct {
	dir string
}

// NewStore creates the manifest directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the manifest file for a corpus.
func (s *Store) Path(corpusID string) string {
	return filepath.Join(s.dir, corpusID+".json")
}

// Load reads a corpus manifest. os.IsNotExist holds for the returned
// error when the corpus was never built.
func (s *Store) Load(corpusID string) (*Manifest, error) {
	data, err := os.ReadFile(s.Path(corpusID))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest for %s: %w", corpusID, err)
	}
	return &m, nil
}

// Save writes a manifest atomically and stamps UpdatedAt.
func (s *Store) Save(m *Manifest) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest for %s: %w", m.CorpusID, err)
	}

	path := s.Path(m.CorpusID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("stage manifest for %s: %w", m.CorpusID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit manifest for %s: %w", m.CorpusID, err)
	}
	return nil
}

// Snapshot returns the raw manifest bytes for a corpus, or nil when
// no manifest exists. Paired with Restore it round-trips a manifest
// byte-identically, which Save cannot because it restamps UpdatedAt.
func (s *Store) Snapshot(corpusID string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(corpusID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Restore writes previously snapshotted bytes back verbatim. A nil
// snapshot means the corpus had no manifest, so the file is removed.
func (s *Store) Restore(corpusID string, data []byte) error {
	if data == nil {
		return s.Delete(corpusID)
	}
	path := s.Path(corpusID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("stage manifest for %s: %w", corpusID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("restore manifest for %s: %w", corpusID, err)
	}
	return nil
}

// Delete removes a corpus manifest. Missing files are not an error.
func (s *Store) Delete(corpusID string) error {
	err := os.Remove(s.Path(corpusID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns the IDs of all corpora with a manifest.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json")])
	}
	return ids, nil
}
