// Package manifest persists the engine's durable metadata: the checkpoint
// position, the B+Tree root, the free-page set and the catalog. Each save
// writes a fresh numbered MANIFEST file and atomically repoints CURRENT at
// it, so a crash during a save leaves the previous manifest intact.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wahyudedik/qubedb/catalog"
)

const (
	currentFile    = "CURRENT"
	manifestFormat = "MANIFEST-%06d.json"
	formatVersion  = 1
)

// Manifest is the serialized metadata record.
type Manifest struct {
	FormatVersion int    `json:"format_version"`
	InstanceID    string `json:"instance_id"` // uuid minted at data dir creation
	PageSize      int    `json:"page_size"`

	// Root is the B+Tree root page id as of CheckpointLSN, 0 for empty.
	Root uint64 `json:"root"`

	// CheckpointLSN is the journal position whose effects are fully
	// reflected in the page file; recovery replays strictly newer records.
	CheckpointLSN uint64 `json:"checkpoint_lsn"`

	// FreeSet is the serialized roaring bitmap of reusable page ids.
	FreeSet []byte `json:"free_set,omitempty"`

	Catalog *catalog.Snapshot `json:"catalog"`

	SavedAt time.Time `json:"saved_at"`
}

// Store manages the CURRENT pointer and numbered manifest files in one
// directory.
type Store struct {
	dir string
	seq uint64
}

// OpenStore opens the manifest store in dir, discovering the sequence
// number of the newest manifest.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}
	s := &Store{dir: dir}

	name, err := s.readCurrent()
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if _, err := fmt.Sscanf(name, manifestFormat, &s.seq); err != nil {
		return nil, fmt.Errorf("malformed CURRENT pointer %q", name)
	}
	return s, nil
}

func (s *Store) readCurrent() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Exists reports whether a manifest has ever been saved.
func (s *Store) Exists() bool {
	_, err := s.readCurrent()
	return err == nil
}

// Load reads the manifest CURRENT points at.
func (s *Store) Load() (*Manifest, error) {
	name, err := s.readCurrent()
	if err != nil {
		return nil, fmt.Errorf("failed to read CURRENT: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.FormatVersion != formatVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", m.FormatVersion)
	}
	return &m, nil
}

// Save writes m as the next numbered manifest, fsyncs it, repoints CURRENT
// and removes the superseded file.
func (s *Store) Save(m *Manifest) error {
	m.FormatVersion = formatVersion
	if m.InstanceID == "" {
		m.InstanceID = uuid.NewString()
	}
	m.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize manifest: %w", err)
	}

	prev := s.seq
	s.seq++
	name := fmt.Sprintf(manifestFormat, s.seq)
	path := filepath.Join(s.dir, name)

	if err := writeFileSync(path, data); err != nil {
		s.seq = prev
		return err
	}
	if err := writeFileSync(filepath.Join(s.dir, currentFile), []byte(name+"\n")); err != nil {
		s.seq = prev
		return err
	}
	if prev > 0 {
		_ = os.Remove(filepath.Join(s.dir, fmt.Sprintf(manifestFormat, prev)))
	}
	return nil
}

// writeFileSync writes data through a temp file, fsyncs and renames it
// into place.
func writeFileSync(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to install %s: %w", filepath.Base(path), err)
	}
	return nil
}
