package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepfake-scanner/backend/internal/models"
)

// ErrWrite is returned when uploaded bytes could not be persisted.
var ErrWrite = errors.New("storage write failed")

// LocalStore keeps uploads in a content directory of the local filesystem.
type LocalStore struct {
	contentDir string
}

// NewLocalStore creates a new LocalStore, creating the content directory if needed.
func NewLocalStore(contentDir string) (*LocalStore, error) {
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("creating content directory: %w", err)
	}

	return &LocalStore{contentDir: contentDir}, nil
}

// Dir returns the content directory.
func (s *LocalStore) Dir() string {
	return s.contentDir
}

// Save streams r to <contentDir>/<id>.<ext>. An existing file with the same
// name is overwritten. On failure the partial file is removed.
func (s *LocalStore) Save(id, ext, name string, r io.Reader) (*models.FileInfo, error) {
	path := filepath.Join(s.contentDir, id+"."+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: creating file: %v", ErrWrite, err)
	}

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: writing file: %v", ErrWrite, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: closing file: %v", ErrWrite, err)
	}

	return &models.FileInfo{
		ID:         id,
		Name:       name,
		Ext:        ext,
		Path:       filepath.ToSlash(path),
		Size:       size,
		UploadedAt: time.Now(),
	}, nil
}

// Remove deletes a previously saved file. Missing files are not an error.
func (s *LocalStore) Remove(path string) error {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.Dir(clean) != filepath.Clean(s.contentDir) {
		return fmt.Errorf("refusing to remove %s: outside content directory", path)
	}

	if err := os.Remove(clean); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// SplitExt returns the extension of name: the text after the last '.' of its
// base name. ok is false when there is no dot or nothing follows it.
func SplitExt(name string) (ext string, ok bool) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	i := strings.LastIndex(base, ".")
	if i < 0 || i == len(base)-1 {
		return "", false
	}
	return base[i+1:], true
}
