package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileStore keeps the checkpoint as a decimal integer in a text file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) String() string {
	return s.path
}

func (s *FileStore) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(s.path)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (s *FileStore) Read(ctx context.Context) (int64, error) {
	content, err := os.ReadFile(s.path)

	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNotFound
	}

	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseInt(strings.TrimSpace(string(content)), 10, 64)

	if err != nil {
		return 0, fmt.Errorf("invalid checkpoint file %s: %w", s.path, err)
	}

	return v, nil
}

// Write replaces the file atomically so a crash never leaves a truncated value.
func (s *FileStore) Write(ctx context.Context, value int64) error {
	var dir = filepath.Dir(s.path)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")

	if err != nil {
		return err
	}

	defer os.Remove(f.Name())

	if _, err := f.WriteString(strconv.FormatInt(value, 10) + "\n"); err != nil {
		f.Close()
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), s.path)
}

func (s *FileStore) Close() error {
	return nil
}
