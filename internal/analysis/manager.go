package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/deepfake-scanner/backend/internal/models"
	"github.com/deepfake-scanner/backend/internal/storage"
)

var (
	// ErrNotFound is returned for request ids that are not tracked.
	ErrNotFound = errors.New("request not found")
	// ErrInvalidFilename is returned when no extension can be derived from the filename.
	ErrInvalidFilename = errors.New("filename has no usable extension")
	// ErrExtensionNotAllowed is returned when the extension is not in the allow list.
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	// ErrTerminal is returned when a transition targets a completed or failed request.
	ErrTerminal = errors.New("request already finished")
)

// Store defines the interface needed from the storage layer.
type Store interface {
	Save(id, ext, name string, r io.Reader) (*models.FileInfo, error)
	Remove(path string) error
}

// Options tunes upload acceptance and clear behavior.
type Options struct {
	// AllowedExtensions is matched case-insensitively, without the dot. Empty allows any.
	AllowedExtensions []string
	// RemoveFileOnClear deletes the stored upload when its entry is cleared.
	RemoveFileOnClear bool
	// OnFinish, if set, is called after a request reaches a terminal status.
	OnFinish func(status models.AnalysisStatus)
}

// Upload is one incoming file.
type Upload struct {
	Filename  string
	MediaType string
	Body      io.Reader
}

// Manager tracks analysis requests in memory. It is safe for concurrent use.
type Manager struct {
	requests   map[string]*models.AnalysisRequest
	mu         sync.RWMutex
	store      Store
	dispatcher Dispatcher
	allowed    map[string]bool
	removeFile bool
	onFinish   func(status models.AnalysisStatus)
}

// NewManager creates a tracker. A nil dispatcher behaves like NopDispatcher.
func NewManager(store Store, dispatcher Dispatcher, opts Options) *Manager {
	if dispatcher == nil {
		dispatcher = NopDispatcher{}
	}

	var allowed map[string]bool
	if len(opts.AllowedExtensions) > 0 {
		allowed = make(map[string]bool, len(opts.AllowedExtensions))
		for _, ext := range opts.AllowedExtensions {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if ext != "" {
				allowed[ext] = true
			}
		}
	}

	return &Manager{
		requests:   make(map[string]*models.AnalysisRequest),
		store:      store,
		dispatcher: dispatcher,
		allowed:    allowed,
		removeFile: opts.RemoveFileOnClear,
		onFinish:   opts.OnFinish,
	}
}

// Submit stores the upload under a fresh request id, starts tracking it and
// dispatches it for analysis. The entry is only committed once the file has
// been written completely.
func (m *Manager) Submit(ctx context.Context, up Upload) (*models.AnalysisRequest, error) {
	ext, err := m.extension(up.Filename)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	info, err := m.store.Save(id, ext, up.Filename, up.Body)
	if err != nil {
		log.Errorf("[Analysis %s] failed to store %s: %v", shortID(id), up.Filename, err)
		return nil, err
	}

	req := models.NewAnalysisRequest(id, info, up.MediaType)

	m.mu.Lock()
	m.requests[id] = req
	snapshot := req.Clone()
	m.mu.Unlock()

	log.Infof("[Analysis %s] stored %s at %s (%d bytes)", shortID(id), up.Filename, info.Path, info.Size)

	// The job outlives the HTTP request that created it.
	if err := m.dispatcher.Dispatch(context.WithoutCancel(ctx), snapshot.Job()); err != nil {
		log.Errorf("[Analysis %s] dispatch failed: %v", shortID(id), err)
		if ferr := m.Fail(id, fmt.Sprintf("dispatch failed: %v", err)); ferr == nil {
			if updated, gerr := m.Get(id); gerr == nil {
				snapshot = updated
			}
		}
	}

	return snapshot, nil
}

// Get returns a copy of the tracked request.
func (m *Manager) Get(id string) (*models.AnalysisRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return req.Clone(), nil
}

// Clear stops tracking id. Clearing an unknown id is a no-op; the return value
// reports whether an entry was removed.
func (m *Manager) Clear(id string) bool {
	m.mu.Lock()
	req, ok := m.requests[id]
	if ok {
		delete(m.requests, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	log.Infof("[Analysis %s] cleared", shortID(id))
	if m.removeFile {
		if err := m.store.Remove(req.StoredPath); err != nil {
			log.Warnf("[Analysis %s] failed to remove %s: %v", shortID(id), req.StoredPath, err)
		}
	}
	return true
}

// Count returns the number of tracked requests.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// UpdateProgress records analysis progress, clamped to [0, 100].
func (m *Manager) UpdateProgress(id string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return m.transition(id, func(req *models.AnalysisRequest) {
		req.Progress = percent
	})
}

// Complete marks the request completed with its result.
func (m *Manager) Complete(id string, result map[string]interface{}) error {
	err := m.transition(id, func(req *models.AnalysisRequest) {
		req.Status = models.AnalysisStatusCompleted
		req.Progress = 100
		req.Result = result
	})
	if err == nil {
		log.Infof("[Analysis %s] completed", shortID(id))
		m.finished(models.AnalysisStatusCompleted)
	}
	return err
}

// Fail marks the request failed.
func (m *Manager) Fail(id string, reason string) error {
	err := m.transition(id, func(req *models.AnalysisRequest) {
		req.Status = models.AnalysisStatusFailed
		req.Error = reason
	})
	if err == nil {
		log.Warnf("[Analysis %s] failed: %s", shortID(id), reason)
		m.finished(models.AnalysisStatusFailed)
	}
	return err
}

// transition applies fn to a request still in processing (thread-safe).
func (m *Manager) transition(id string, fn func(req *models.AnalysisRequest)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if req.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, req.Status)
	}

	fn(req)
	req.UpdatedAt = time.Now()
	return nil
}

func (m *Manager) finished(status models.AnalysisStatus) {
	if m.onFinish != nil {
		m.onFinish(status)
	}
}

func (m *Manager) extension(filename string) (string, error) {
	ext, ok := storage.SplitExt(filename)
	if !ok || !isAlphanumeric(ext) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	if m.allowed != nil && !m.allowed[strings.ToLower(ext)] {
		return "", fmt.Errorf("%w: .%s", ErrExtensionNotAllowed, ext)
	}
	return ext, nil
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return s != ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
