package filestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/jrsteele09/go-storefront-auth/sessions/storage"
	"github.com/pkg/errors"
)

var _ storage.Repo = (*Store)(nil)

const fileName = "sessions.json"

// Store persists every key in a single JSON object on disk so that CLI runs
// see the sessions left behind by earlier runs. Writes hold an advisory lock
// on <folder>/sessions.json.lock, so processes sharing a folder do not lose
// each other's keys.
type Store struct {
	path     string
	lock     sync.Mutex
	fileLock *flock.Flock
}

// New returns a Store writing to <folder>/sessions.json, creating folder if needed.
func New(folder string) (*Store, error) {
	if err := os.MkdirAll(folder, 0o700); err != nil {
		return nil, errors.Wrap(err, "[filestore.New] MkdirAll")
	}
	path := filepath.Join(folder, fileName)
	return &Store{path: path, fileLock: flock.New(path + ".lock")}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) GetItem(key string) (string, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	items, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := items[key]
	return v, ok, nil
}

func (s *Store) SetItem(key, value string) error {
	return s.update(func(items map[string]string) bool {
		items[key] = value
		return true
	})
}

func (s *Store) RemoveItem(key string) error {
	return s.update(func(items map[string]string) bool {
		if _, ok := items[key]; !ok {
			return false
		}
		delete(items, key)
		return true
	})
}

// update runs a read-modify-write under both the in-process and the file
// lock. fn reports whether items changed and must be written back.
func (s *Store) update(fn func(items map[string]string) bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.fileLock.Lock(); err != nil {
		return errors.Wrap(err, "[filestore] lock")
	}
	defer func() { _ = s.fileLock.Unlock() }()

	items, err := s.read()
	if err != nil {
		return err
	}
	if !fn(items) {
		return nil
	}
	return s.write(items)
}

func (s *Store) read() (map[string]string, error) {
	items := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return items, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[filestore] read")
	}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, errors.Wrap(err, "[filestore] decode")
	}
	return items, nil
}

// write replaces the file atomically via a temp file in the same folder.
func (s *Store) write(items map[string]string) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[filestore] encode")
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), fileName+".*")
	if err != nil {
		return errors.Wrap(err, "[filestore] CreateTemp")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[filestore] write")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[filestore] close")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "[filestore] rename")
	}
	return nil
}
