package analysis

import (
	"context"

	"github.com/deepfake-scanner/backend/internal/models"
)

// Dispatcher hands a committed request to whatever performs the analysis.
// Dispatch must not wait for the analysis to finish.
type Dispatcher interface {
	Dispatch(ctx context.Context, job models.AnalysisJob) error
}

// Analyzer performs the analysis of one stored upload. It may call progress
// any number of times before returning.
type Analyzer interface {
	Analyze(ctx context.Context, job models.AnalysisJob, progress func(percent int)) (map[string]interface{}, error)
}

// Reporter receives status transitions for tracked requests.
type Reporter interface {
	UpdateProgress(id string, percent int) error
	Complete(id string, result map[string]interface{}) error
	Fail(id string, reason string) error
}

// NopDispatcher accepts every job and does nothing with it, leaving requests
// in processing until they are cleared.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, models.AnalysisJob) error { return nil }
