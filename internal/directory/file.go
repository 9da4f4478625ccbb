package directory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"stockcrawler/internal/models"
)

// FileStore keeps the directory in a CSV file using the listing format.
// Readers see an immutable snapshot published through an atomic pointer.
type FileStore struct {
	path string
	snap atomic.Pointer[index]

	// loadMu serializes the first read and every Replace.
	loadMu sync.Mutex
}

// NewFileStore returns a store backed by path. The file is read lazily on the
// first Resolve, so a missing file is reported as ErrUnavailable then.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (*index, error) {
	if idx := s.snap.Load(); idx != nil {
		return idx, nil
	}
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if idx := s.snap.Load(); idx != nil {
		return idx, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, unavailable("open directory file", err)
	}
	defer f.Close()

	companies, err := readListing(f)
	if err != nil {
		return nil, unavailable("read directory file", err)
	}
	idx := newIndex(companies)
	s.snap.Store(idx)
	return idx, nil
}

// Resolve implements Directory.
func (s *FileStore) Resolve(_ context.Context, symbols []string) (Resolution, error) {
	idx, err := s.load()
	if err != nil {
		return Resolution{}, err
	}
	return idx.resolve(symbols), nil
}

// Replace writes the new list to a temporary file, renames it over the old
// one and only then publishes the new snapshot.
func (s *FileStore) Replace(_ context.Context, companies []models.Company) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp directory file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if err := WriteListing(tmp, companies); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp directory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp directory file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("publish directory file: %w", err)
	}

	s.snap.Store(newIndex(companies))
	return nil
}

// Close implements Directory. The file store holds no open handles.
func (s *FileStore) Close() error { return nil }
