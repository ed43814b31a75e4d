// routes.go - Route registration helpers
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/deepfake-scanner/backend/internal/metrics"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Tracker        Tracker
	Metrics        *metrics.Metrics
	Queue          QueueStatus // nil when no broker is configured
	Version        string
	StreamInterval time.Duration
}

// Handlers holds all handler instances
type Handlers struct {
	Health   HealthHandler
	Analysis AnalysisHandler
	Stream   StatusStreamHandler
	Metrics  http.Handler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:   NewHealthHandler(deps.Version, deps.Tracker, deps.Queue),
		Analysis: NewAnalysisHandler(deps.Tracker, deps.Metrics),
		Stream:   NewStatusStreamHandler(deps.Tracker, deps.StreamInterval),
		Metrics:  deps.Metrics.Handler(),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/", handlers.Analysis.HandleHome)
	e.GET("/health", handlers.Health.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(handlers.Metrics))

	e.POST("/scan-video", handlers.Analysis.HandleScanVideo)
	e.GET("/analysis-status/:request_id", handlers.Analysis.HandleAnalysisStatus)
	e.DELETE("/analysis/:request_id", handlers.Analysis.HandleClearAnalysis)

	e.GET("/ws/analysis/:request_id", handlers.Stream.HandleStatusStream)
}

// MiddlewareOptions configures SetupMiddleware
type MiddlewareOptions struct {
	RequestLogging bool
	LogStatusPolls bool
	BodyLimit      int64 // bytes; 0 disables the limit
	EnableCORS     bool
	AllowOrigins   []string
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions) {
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.RequestID())

	if opts.RequestLogging {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				if path == "/health" || path == "/metrics" {
					return true
				}
				return !opts.LogStatusPolls && strings.HasPrefix(path, "/analysis-status/")
			},
			Format: `{"time":"${time_rfc3339}","id":"${id}","method":"${method}","uri":"${uri}",` +
				`"status":${status},"latency":"${latency_human}","bytes_in":${bytes_in},"bytes_out":${bytes_out},"error":"${error}"}` + "\n",
		}))
	}

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
	}))

	if opts.BodyLimit > 0 {
		e.Use(middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
			Limit: strconv.FormatInt(opts.BodyLimit, 10),
			Skipper: func(c echo.Context) bool {
				return c.Request().Method != http.MethodPost
			},
		}))
	}

	if opts.EnableCORS {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: opts.AllowOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderXRequestID},
		}))
	}
}
