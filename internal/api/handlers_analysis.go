// handlers_analysis.go - Upload and status tracking handlers
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/deepfake-scanner/backend/internal/analysis"
	"github.com/deepfake-scanner/backend/internal/metrics"
	"github.com/deepfake-scanner/backend/internal/models"
)

// MIMEApplicationMsgpack is accepted on the status endpoint as an alternative to JSON.
const MIMEApplicationMsgpack = "application/msgpack"

// AnalysisHandlerImpl implements the AnalysisHandler interface
type AnalysisHandlerImpl struct {
	tracker Tracker
	metrics *metrics.Metrics
}

// NewAnalysisHandler creates a new analysis handler instance
func NewAnalysisHandler(tracker Tracker, m *metrics.Metrics) AnalysisHandler {
	return &AnalysisHandlerImpl{
		tracker: tracker,
		metrics: m,
	}
}

// HandleHome reports that the service is up
func (h *AnalysisHandlerImpl) HandleHome(c echo.Context) error {
	return c.JSON(http.StatusOK, homeResponse{
		Status:  "online",
		Message: "Simple Backend is Ready",
	})
}

// HandleScanVideo accepts a multipart upload, stores it and starts tracking it
func (h *AnalysisHandlerImpl) HandleScanVideo(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			h.metrics.Uploads.WithLabelValues(metrics.OutcomeTooLarge).Inc()
			return NewPayloadTooLargeError("upload exceeds the configured size limit")
		}
		h.metrics.Uploads.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return NewBadRequestError("no file provided", err)
	}

	src, err := file.Open()
	if err != nil {
		h.metrics.Uploads.WithLabelValues(metrics.OutcomeError).Inc()
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	c.Logger().Infof("[Upload] receiving file: %s", file.Filename)

	req, err := h.tracker.Submit(c.Request().Context(), analysis.Upload{
		Filename:  file.Filename,
		MediaType: c.FormValue("media_type"),
		Body:      src,
	})
	if err != nil {
		switch {
		case errors.Is(err, analysis.ErrInvalidFilename), errors.Is(err, analysis.ErrExtensionNotAllowed):
			h.metrics.Uploads.WithLabelValues(metrics.OutcomeInvalid).Inc()
			return NewValidationError("file", err)
		case isTooLarge(err):
			h.metrics.Uploads.WithLabelValues(metrics.OutcomeTooLarge).Inc()
			return NewPayloadTooLargeError("upload exceeds the configured size limit")
		default:
			h.metrics.Uploads.WithLabelValues(metrics.OutcomeError).Inc()
			return NewInternalError("failed to save file", err)
		}
	}

	h.metrics.Uploads.WithLabelValues(metrics.OutcomeAccepted).Inc()
	h.metrics.UploadedBytes.Add(float64(req.Size))

	return c.JSON(http.StatusOK, scanVideoResponse{
		Status:       "success",
		RequestID:    req.RequestID,
		Message:      "Analysis started. Check status with request_id.",
		OriginalName: req.OriginalFilename,
		SavedPath:    req.StoredPath,
	})
}

// HandleAnalysisStatus returns the current status of a request
func (h *AnalysisHandlerImpl) HandleAnalysisStatus(c echo.Context) error {
	id := c.Param("request_id")

	req, err := h.tracker.Get(id)
	if err != nil {
		h.metrics.StatusChecks.WithLabelValues("not_found").Inc()
		return NewNotFoundError("Request not found")
	}
	h.metrics.StatusChecks.WithLabelValues("found").Inc()

	resp := newStatusResponse(req)
	if acceptsMsgpack(c.Request()) {
		body, err := msgpack.Marshal(resp)
		if err != nil {
			return NewInternalError("failed to encode status", err)
		}
		return c.Blob(http.StatusOK, MIMEApplicationMsgpack, body)
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleClearAnalysis stops tracking a request. Unknown ids succeed as well.
func (h *AnalysisHandlerImpl) HandleClearAnalysis(c echo.Context) error {
	existed := h.tracker.Clear(c.Param("request_id"))
	if existed {
		h.metrics.Clears.WithLabelValues("true").Inc()
	} else {
		h.metrics.Clears.WithLabelValues("false").Inc()
	}

	return c.JSON(http.StatusOK, clearResponse{Status: "cleared"})
}

// Request/Response types

type homeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type scanVideoResponse struct {
	Status       string `json:"status"`
	RequestID    string `json:"request_id"`
	Message      string `json:"message"`
	OriginalName string `json:"original_name"`
	SavedPath    string `json:"saved_path"`
}

type statusResponse struct {
	RequestID string                 `json:"request_id" msgpack:"request_id"`
	Status    models.AnalysisStatus  `json:"status" msgpack:"status"`
	Progress  int                    `json:"progress" msgpack:"progress"`
	Result    map[string]interface{} `json:"result" msgpack:"result"`
	Error     string                 `json:"error,omitempty" msgpack:"error,omitempty"`
}

func newStatusResponse(req *models.AnalysisRequest) statusResponse {
	return statusResponse{
		RequestID: req.RequestID,
		Status:    req.Status,
		Progress:  req.Progress,
		Result:    req.Result,
		Error:     req.Error,
	}
}

type clearResponse struct {
	Status string `json:"status"`
}

// Helper functions

func acceptsMsgpack(r *http.Request) bool {
	accept := r.Header.Get(echo.HeaderAccept)
	return strings.Contains(accept, MIMEApplicationMsgpack) || strings.Contains(accept, "application/x-msgpack")
}

func isTooLarge(err error) bool {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code == http.StatusRequestEntityTooLarge
	}
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}
