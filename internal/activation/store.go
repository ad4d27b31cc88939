package activation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// MemoryStore is a FlagStore that lives as long as the process.
type MemoryStore struct {
	mu    sync.Mutex
	flags map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.flags[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[key] = value
	return nil
}

// ErrInvalidTab is returned for tab ids that cannot name a file.
var ErrInvalidTab = errors.New("activation: invalid tab id")

var tabIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// FileStore keeps one JSON document of flags per tab under dir.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns the store for tab inside dir.
func NewFileStore(dir, tab string) (*FileStore, error) {
	if !tabIDPattern.MatchString(tab) || tab == "." || tab == ".." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTab, tab)
	}
	return &FileStore{path: filepath.Join(dir, tab+".json")}, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flags, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := flags[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flags, err := s.load()
	if err != nil {
		return err
	}
	flags[key] = value
	data, err := json.MarshalIndent(flags, "", "  ")
	if err != nil {
		return err
	}

	// Write atomically via temp file
	// #nosec G301 -- runtime state directory
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// Clear removes the tab's flags, as closing the tab would.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path) // #nosec G304 -- path built from validated tab id
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}
	flags := make(map[string]string)
	if err := json.Unmarshal(data, &flags); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return flags, nil
}
