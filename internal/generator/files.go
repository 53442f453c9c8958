package generator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extension is the file extension of model source artifacts
const Extension = ".model"

// Store reads and writes model source files in one directory
type Store struct {
	Dir string
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// ErrInvalidName is returned for model names that would leave the store directory
var ErrInvalidName = errors.New("invalid model name")

// Path returns the file path for a model name. The resolved path must stay
// directly inside Dir.
func (s *Store) Path(name string) (string, error) {
	base := strings.ToLower(strings.TrimSpace(name))
	if base == "" || base == "." || base == ".." || strings.ContainsAny(base, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(s.Dir, base+Extension)
	if filepath.Dir(path) != filepath.Clean(s.Dir) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return path, nil
}

// Write stores the source atomically (temp file + rename)
func (s *Store) Write(name, src string) (string, error) {
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, ".model-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.WriteString(src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

// Read returns the source of a model, or os.ErrNotExist
func (s *Store) Read(name string) (string, error) {
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Exists reports whether a model file is present
func (s *Store) Exists(name string) bool {
	path, err := s.Path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Delete removes a model file; a missing file is not an error
func (s *Store) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the model names present in the directory, sorted
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), Extension))
	}
	sort.Strings(names)
	return names, nil
}
