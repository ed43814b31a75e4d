// handlers_analysis_test.go - Tests for upload and status handlers
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/deepfake-scanner/backend/internal/analysis"
	"github.com/deepfake-scanner/backend/internal/metrics"
	"github.com/deepfake-scanner/backend/internal/testutil"
)

type testEnv struct {
	e       *echo.Echo
	store   *testutil.MockStorage
	tracker *analysis.Manager
	handler AnalysisHandler
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, opts analysis.Options) *testEnv {
	t.Helper()
	store := testutil.NewMockStorage()
	tracker := analysis.NewManager(store, nil, opts)
	m := metrics.New(tracker.Count)
	return &testEnv{
		e:       echo.New(),
		store:   store,
		tracker: tracker,
		handler: NewAnalysisHandler(tracker, m),
		metrics: m,
	}
}

func newUploadRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		part.Write(content)
	}
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/scan-video", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func (env *testEnv) upload(t *testing.T, filename string, content []byte) scanVideoResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	c := env.e.NewContext(newUploadRequest(t, filename, content, nil), rec)
	require.NoError(t, env.handler.HandleScanVideo(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scanVideoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (env *testEnv) status(t *testing.T, id string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/analysis-status/"+id, nil)
	rec := httptest.NewRecorder()
	c := env.e.NewContext(req, rec)
	c.SetParamNames("request_id")
	c.SetParamValues(id)
	return rec, env.handler.HandleAnalysisStatus(c)
}

func (env *testEnv) clear(t *testing.T, id string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodDelete, "/analysis/"+id, nil)
	rec := httptest.NewRecorder()
	c := env.e.NewContext(req, rec)
	c.SetParamNames("request_id")
	c.SetParamValues(id)
	require.NoError(t, env.handler.HandleClearAnalysis(c))
	return rec
}

func TestAnalysisHandler_HandleHome(t *testing.T) {
	env := newTestEnv(t, analysis.Options{})
	rec := httptest.NewRecorder()
	c := env.e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, env.handler.HandleHome(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"online","message":"Simple Backend is Ready"}`, rec.Body.String())
}

func TestAnalysisHandler_HandleScanVideo(t *testing.T) {
	tests := []struct {
		name       string
		filename   string
		content    []byte
		opts       analysis.Options
		saveErr    error
		wantStatus int
		wantErr    bool
		errCode    string
	}{
		{
			name:       "valid video upload",
			filename:   "clip.mp4",
			content:    []byte("fake mp4 bytes"),
			wantStatus: http.StatusOK,
		},
		{
			name:       "empty file is accepted",
			filename:   "empty.webm",
			content:    []byte{},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing file field",
			filename:   "",
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "BAD_REQUEST",
		},
		{
			name:       "filename without extension",
			filename:   "clip",
			content:    []byte("x"),
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "VALIDATION_ERROR",
		},
		{
			name:       "extension not allowed",
			filename:   "payload.exe",
			content:    []byte("x"),
			opts:       analysis.Options{AllowedExtensions: []string{"mp4"}},
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "VALIDATION_ERROR",
		},
		{
			name:       "disk write failure",
			filename:   "clip.mp4",
			content:    []byte("x"),
			saveErr:    testutil.ErrDiskFull,
			wantStatus: http.StatusInternalServerError,
			wantErr:    true,
			errCode:    "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.opts)
			env.store.SaveErr = tt.saveErr

			rec := httptest.NewRecorder()
			c := env.e.NewContext(newUploadRequest(t, tt.filename, tt.content, nil), rec)

			err := env.handler.HandleScanVideo(c)

			if tt.wantErr {
				require.Error(t, err)
				apiErr, ok := err.(*APIError)
				require.True(t, ok, "expected APIError, got %T", err)
				assert.Equal(t, tt.wantStatus, apiErr.Status)
				assert.Equal(t, tt.errCode, apiErr.Code)
				assert.Equal(t, 0, env.tracker.Count(), "no entry may be committed on failure")
				assert.Equal(t, 0, env.store.FileCount(), "nothing may be stored on failure")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp scanVideoResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "success", resp.Status)
			assert.NotEmpty(t, resp.RequestID)
			assert.Equal(t, tt.filename, resp.OriginalName)
			ext := tt.filename[strings.LastIndex(tt.filename, ".")+1:]
			assert.Equal(t, "public/temp/"+resp.RequestID+"."+ext, resp.SavedPath)
			assert.NotEmpty(t, resp.Message)

			data, ok := env.store.Data(resp.SavedPath)
			require.True(t, ok)
			assert.Equal(t, tt.content, data)
			assert.Equal(t, 1, env.store.FileCount())
		})
	}
}

func TestAnalysisHandler_MediaTypeIsRecorded(t *testing.T) {
	env := newTestEnv(t, analysis.Options{})
	rec := httptest.NewRecorder()
	req := newUploadRequest(t, "face.jpg", []byte("x"), map[string]string{"media_type": "image"})
	require.NoError(t, env.handler.HandleScanVideo(env.e.NewContext(req, rec)))

	var resp scanVideoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	entry, err := env.tracker.Get(resp.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "image", entry.MediaType)
}

func TestAnalysisHandler_HandleAnalysisStatus(t *testing.T) {
	t.Run("fresh upload is processing", func(t *testing.T) {
		env := newTestEnv(t, analysis.Options{})
		up := env.upload(t, "clip.mp4", []byte("x"))

		rec, err := env.status(t, up.RequestID)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, fmt.Sprintf(`{"request_id":%q,"status":"processing","progress":0,"result":null}`, up.RequestID), rec.Body.String())
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		env := newTestEnv(t, analysis.Options{})
		env.upload(t, "clip.mp4", []byte("x"))

		_, err := env.status(t, "never-issued")
		apiErr, ok := err.(*APIError)
		require.True(t, ok)
		assert.Equal(t, http.StatusNotFound, apiErr.Status)
		assert.Equal(t, "NOT_FOUND", apiErr.Code)
		assert.Equal(t, "Request not found", apiErr.Message)
		assert.Equal(t, 1, env.tracker.Count())
	})

	t.Run("completed request carries result", func(t *testing.T) {
		env := newTestEnv(t, analysis.Options{})
		up := env.upload(t, "clip.mp4", []byte("x"))
		require.NoError(t, env.tracker.Complete(up.RequestID, map[string]interface{}{"verdict": "fake"}))

		rec, err := env.status(t, up.RequestID)
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprintf(`{"request_id":%q,"status":"completed","progress":100,"result":{"verdict":"fake"}}`, up.RequestID), rec.Body.String())
	})

	t.Run("msgpack on request", func(t *testing.T) {
		env := newTestEnv(t, analysis.Options{})
		up := env.upload(t, "clip.mp4", []byte("x"))

		req := httptest.NewRequest(http.MethodGet, "/analysis-status/"+up.RequestID, nil)
		req.Header.Set(echo.HeaderAccept, MIMEApplicationMsgpack)
		rec := httptest.NewRecorder()
		c := env.e.NewContext(req, rec)
		c.SetParamNames("request_id")
		c.SetParamValues(up.RequestID)
		require.NoError(t, env.handler.HandleAnalysisStatus(c))

		assert.Equal(t, MIMEApplicationMsgpack, rec.Header().Get(echo.HeaderContentType))
		var decoded statusResponse
		require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &decoded))
		assert.Equal(t, up.RequestID, decoded.RequestID)
		assert.Equal(t, "processing", string(decoded.Status))
		assert.Nil(t, decoded.Result)
	})
}

func TestAnalysisHandler_HandleClearAnalysis(t *testing.T) {
	env := newTestEnv(t, analysis.Options{})
	up := env.upload(t, "clip.mp4", []byte("x"))

	rec := env.clear(t, up.RequestID)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"cleared"}`, rec.Body.String())

	_, err := env.status(t, up.RequestID)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	// Idempotent: the same and never-issued ids still report success.
	assert.JSONEq(t, `{"status":"cleared"}`, env.clear(t, up.RequestID).Body.String())
	assert.JSONEq(t, `{"status":"cleared"}`, env.clear(t, "never-issued").Body.String())

	// The stored file is retained by default.
	_, stored := env.store.Data(up.SavedPath)
	assert.True(t, stored)
}

func TestAnalysisHandler_ConcurrentUploads(t *testing.T) {
	env := newTestEnv(t, analysis.Options{})

	const n = 25
	responses := make([]scanVideoResponse, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := newUploadRequest(t, fmt.Sprintf("clip-%d.mp4", i), []byte(fmt.Sprintf("content-%d", i)), nil)
			rec := httptest.NewRecorder()
			if assert.NoError(t, env.handler.HandleScanVideo(env.e.NewContext(req, rec))) {
				json.Unmarshal(rec.Body.Bytes(), &responses[i])
			}
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for i, resp := range responses {
		assert.False(t, ids[resp.RequestID], "duplicate request id")
		ids[resp.RequestID] = true

		entry, err := env.tracker.Get(resp.RequestID)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("clip-%d.mp4", i), entry.OriginalFilename)
		assert.Equal(t, resp.SavedPath, entry.StoredPath)

		data, _ := env.store.Data(entry.StoredPath)
		assert.Equal(t, fmt.Sprintf("content-%d", i), string(data))
	}
	assert.Equal(t, n, env.tracker.Count())
	assert.Equal(t, n, env.store.FileCount())
}
