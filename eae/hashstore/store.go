// Package hashstore persists the content digests of archives and extracted
// files between runs.
package hashstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	internal "github.com/ZanzyTHEbar/enhanced-archive-extractor/eae"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem/common"

	"github.com/rs/zerolog"
)

// Document is the in-memory hash log. Archives are keyed by paths relative
// to the install root, Files by paths relative to the extraction root.
// It is safe for concurrent use.
type Document struct {
	mu       sync.RWMutex
	archives map[string]string
	files    map[string]string
}

type documentJSON struct {
	Archives map[string]string `json:"Archives"`
	Files    map[string]string `json:"Files"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		archives: make(map[string]string),
		files:    make(map[string]string),
	}
}

func (d *Document) Archive(rel string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	digest, ok := d.archives[rel]
	return digest, ok
}

func (d *Document) SetArchive(rel, digest string) {
	d.mu.Lock()
	d.archives[rel] = digest
	d.mu.Unlock()
}

// DeleteArchive forgets an archive digest so the next run re-extracts it.
func (d *Document) DeleteArchive(rel string) {
	d.mu.Lock()
	delete(d.archives, rel)
	d.mu.Unlock()
}

func (d *Document) File(rel string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	digest, ok := d.files[rel]
	return digest, ok
}

func (d *Document) SetFile(rel, digest string) {
	d.mu.Lock()
	d.files[rel] = digest
	d.mu.Unlock()
}

// FilesEmpty reports whether no extracted file has ever been hashed.
func (d *Document) FilesEmpty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.files) == 0
}

// Empty reports whether both namespaces are empty.
func (d *Document) Empty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.files) == 0 && len(d.archives) == 0
}

// Len returns the number of archive and file entries.
func (d *Document) Len() (archives, files int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.archives), len(d.files)
}

// Clone returns a deep copy, used to snapshot the pre-run state.
func (d *Document) Clone() *Document {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c := NewDocument()
	for k, v := range d.archives {
		c.archives[k] = v
	}
	for k, v := range d.files {
		c.files[k] = v
	}
	return c
}

// Files returns a copy of the Files namespace.
func (d *Document) Files() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]string, len(d.files))
	for k, v := range d.files {
		out[k] = v
	}
	return out
}

// Archives returns a copy of the Archives namespace.
func (d *Document) Archives() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]string, len(d.archives))
	for k, v := range d.archives {
		out[k] = v
	}
	return out
}

func (d *Document) MarshalJSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.Marshal(documentJSON{Archives: d.archives, Files: d.files})
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw documentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Archives == nil {
		raw.Archives = make(map[string]string)
	}
	if raw.Files == nil {
		raw.Files = make(map[string]string)
	}

	d.mu.Lock()
	d.archives = raw.Archives
	d.files = raw.Files
	d.mu.Unlock()
	return nil
}

// Store reads and writes hash log documents under an install root.
type Store struct {
	root     string
	filename string
	logger   zerolog.Logger
	rename   func(oldpath, newpath string) error
}

// New creates a store rooted at root. An empty filename selects the default
// hash log name.
func New(root, filename string, logger zerolog.Logger) *Store {
	if filename == "" {
		filename = internal.DefaultHashLogFile
	}
	return &Store{
		root:     root,
		filename: filename,
		logger:   logger.With().Str("component", "hashstore").Logger(),
		rename:   os.Rename,
	}
}

// Path returns the canonical hash log location.
func (s *Store) Path() string {
	return filepath.Join(s.root, s.filename)
}

// Load reads the canonical hash log. A missing or corrupt file yields an
// empty document; the cause is logged and never returned.
func (s *Store) Load() *Document {
	doc, err := s.read(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("path", s.Path()).Msg("No hash log found, starting fresh")
		} else {
			s.logger.Warn().Err(fmt.Errorf("%w: %w", common.ErrCorruptCache, err)).Str("path", s.Path()).Msg("Ignoring unreadable hash log")
		}
		return NewDocument()
	}
	return doc
}

// Read loads a specific hash log file, returning its errors unchanged.
func (s *Store) Read(name string) (*Document, error) {
	return s.read(filepath.Join(s.root, name))
}

func (s *Store) read(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Save writes doc to the canonical hash log.
func (s *Store) Save(doc *Document) error {
	return s.SaveAs(doc, s.filename)
}

// SaveAs writes doc under name in the root. The file is replaced atomically:
// data goes to a temp file in the same directory which is then renamed over
// the destination.
func (s *Store) SaveAs(doc *Document, name string) error {
	if name == "" {
		return common.ErrPathEmpty
	}
	if _, err := common.EnsureDirectory(s.root); err != nil {
		return fmt.Errorf("create hash log directory: %w", err)
	}

	dst := filepath.Join(s.root, name)
	tmp, err := os.CreateTemp(s.root, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp hash log: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("encode hash log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync hash log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close hash log: %w", err)
	}
	if err := s.rename(tmpName, dst); err != nil {
		cleanup()
		return fmt.Errorf("replace hash log: %w", err)
	}

	archives, files := doc.Len()
	s.logger.Debug().Str("path", dst).Int("archives", archives).Int("files", files).Msg("Hash log saved")
	return nil
}

// BackupName returns the backup file name for a run started at now.
func BackupName(now time.Time) string {
	return internal.DefaultBackupPrefix + now.Format(internal.BackupTimeLayout) + ".json"
}

// Backup writes doc under a timestamped name and returns that name.
func (s *Store) Backup(doc *Document, now time.Time) (string, error) {
	name := BackupName(now)
	if err := s.SaveAs(doc, name); err != nil {
		return "", fmt.Errorf("backup hash log: %w", err)
	}
	s.logger.Info().Str("backup", name).Str("restore_as", s.filename).Msg("Saved previous hash log; rename it to restore if this run fails")
	return name, nil
}

// RemoveBackup deletes a backup written by Backup. A missing file is not an error.
func (s *Store) RemoveBackup(name string) error {
	if name == "" {
		return nil
	}
	if err := os.Remove(filepath.Join(s.root, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove backup %s: %w", name, err)
	}
	return nil
}

// Restore replaces the canonical hash log with the content of a backup.
func (s *Store) Restore(name string) error {
	doc, err := s.Read(name)
	if err != nil {
		return fmt.Errorf("read backup %s: %w", name, err)
	}
	return s.Save(doc)
}
