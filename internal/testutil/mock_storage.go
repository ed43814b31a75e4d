// mock_storage.go - Mock storage implementation for testing
package testutil

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/deepfake-scanner/backend/internal/models"
	"github.com/deepfake-scanner/backend/internal/storage"
)

// MockStorage keeps uploads in memory. It satisfies analysis.Store.
type MockStorage struct {
	mu       sync.RWMutex
	dir      string
	fileData map[string][]byte // path -> content

	// SaveErr, when set, makes every Save fail with it.
	SaveErr error
}

// NewMockStorage creates a new mock storage rooted at a fake content directory
func NewMockStorage() *MockStorage {
	return &MockStorage{
		dir:      "public/temp",
		fileData: make(map[string][]byte),
	}
}

func (m *MockStorage) Save(id, ext, name string, r io.Reader) (*models.FileInfo, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrWrite, err)
	}

	path := m.dir + "/" + id + "." + ext

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileData[path] = data

	return &models.FileInfo{
		ID:         id,
		Name:       name,
		Ext:        ext,
		Path:       path,
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
	}, nil
}

func (m *MockStorage) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fileData, path)
	return nil
}

// Data returns the stored bytes for path
func (m *MockStorage) Data(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.fileData[path]
	return data, ok
}

// FileCount returns the number of stored files
func (m *MockStorage) FileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fileData)
}

// ErrDiskFull is a convenience write failure for tests
var ErrDiskFull = fmt.Errorf("%w: %v", storage.ErrWrite, errors.New("no space left on device"))
