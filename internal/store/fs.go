package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FSStore keeps function source on the local filesystem under
// {root}/functions/{id}.js. Saves are atomic: source is written to a
// temporary file in the same directory and renamed into place.
type FSStore struct {
	root string
}

// NewFSStore creates the backing directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(filepath.Join(root, "functions"), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(id string) string {
	return filepath.Join(s.root, filepath.FromSlash(objectKey(id)))
}

func (s *FSStore) Save(_ context.Context, id, source string) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path(id)), ".deploy-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(source); err != nil {
		tmp.Close()
		return fmt.Errorf("write source: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (s *FSStore) Get(_ context.Context, id string) (string, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	return string(data), nil
}

func (s *FSStore) Exists(_ context.Context, id string) (bool, error) {
	_, err := os.Stat(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
