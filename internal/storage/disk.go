package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DiskStore keeps objects under a root directory. Refs look like
// file://key.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) *DiskStore { return &DiskStore{root: root} }

func (s *DiskStore) path(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", errors.Errorf("key %q escapes the store", key)
	}
	return p, nil
}

func (s *DiskStore) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", errors.Wrap(err, "mkdir")
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write object")
	}
	return "file://" + key, nil
}

func (s *DiskStore) Get(_ context.Context, ref string) ([]byte, error) {
	key, ok := strings.CutPrefix(ref, "file://")
	if !ok {
		return nil, errors.Errorf("ref %q is not a disk ref", ref)
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	return b, errors.Wrap(err, "read object")
}
