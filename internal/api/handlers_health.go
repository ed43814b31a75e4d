// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	tracker Tracker
	queue   QueueStatus
}

// NewHealthHandler creates a new health handler. queue may be nil when no
// broker is configured.
func NewHealthHandler(version string, tracker Tracker, queue QueueStatus) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		tracker: tracker,
		queue:   queue,
	}
}

// HandleHealth returns server health status. A configured broker that is
// disconnected makes the service unavailable.
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	queueStatus := "disabled"
	if h.queue != nil {
		if !h.queue.Connected() {
			return NewServiceUnavailableError("analysis queue disconnected")
		}
		queueStatus = "connected"
	}

	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Version: h.version,
		Tracked: h.tracker.Count(),
		Queue:   queueStatus,
	})
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Tracked int    `json:"tracked"`
	Queue   string `json:"queue"`
}
