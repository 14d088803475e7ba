// Package state persists cursor values between sync runs.
//
// State lives in a small JSON file keyed by resource name, so one state file
// can serve several study/subject sync configurations. Writes go through a
// temp file and rename so a crash mid-write never corrupts existing state.
package state

import (
	"os"
	"path/filepath"
	"sync"

	gojson "github.com/goccy/go-json"

	"github.com/sensorcloud/centrepoint-sync/pkg/errors"
)

// FileStore reads and writes cursor state in a local JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// fileState is the on-disk layout: resource key to cursor value.
type fileState struct {
	Cursors map[string]string `json:"cursors"`
}

// NewFileStore creates a store backed by the given file path. The file and
// its parent directory are created on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the persisted cursor for the resource, or empty when none has
// been saved yet. A missing state file is not an error; a corrupt one is.
func (s *FileStore) Load(resource string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return "", err
	}
	return st.Cursors[resource], nil
}

// Save persists the cursor for the resource. Callers must only invoke this
// after the run's records are durably committed downstream; saving first and
// failing the load would skip those records forever.
func (s *FileStore) Save(resource, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return err
	}
	if st.Cursors == nil {
		st.Cursors = make(map[string]string)
	}
	st.Cursors[resource] = cursor

	data, err := gojson.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to encode state")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to create state directory")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write state file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to replace state file")
	}
	return nil
}

// Clear removes the persisted cursor for the resource, forcing the next
// incremental run to start from the epoch sentinel.
func (s *FileStore) Clear(resource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := st.Cursors[resource]; !ok {
		return nil
	}
	delete(st.Cursors, resource)

	data, err := gojson.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to encode state")
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write state file")
	}
	return nil
}

func (s *FileStore) read() (*fileState, error) {
	st := &fileState{}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to read state file")
	}

	if err := gojson.Unmarshal(data, st); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "state file is corrupt")
	}
	return st, nil
}
