// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/deepfake-scanner/backend/internal/analysis"
	"github.com/deepfake-scanner/backend/internal/models"
)

// AnalysisHandler handles upload and status tracking operations
type AnalysisHandler interface {
	HandleHome(c echo.Context) error
	HandleScanVideo(c echo.Context) error
	HandleAnalysisStatus(c echo.Context) error
	HandleClearAnalysis(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// StatusStreamHandler pushes status snapshots over WebSocket
type StatusStreamHandler interface {
	HandleStatusStream(c echo.Context) error
}

// Tracker defines the interface for the analysis request table.
// This allows mocking in tests
type Tracker interface {
	Submit(ctx context.Context, up analysis.Upload) (*models.AnalysisRequest, error)
	Get(id string) (*models.AnalysisRequest, error)
	Clear(id string) bool
	Count() int
}

// QueueStatus reports broker connectivity for the health check
type QueueStatus interface {
	Connected() bool
}
