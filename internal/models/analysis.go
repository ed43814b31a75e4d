package models

import "time"

// AnalysisStatus represents where an analysis request is in its lifecycle.
type AnalysisStatus string

const (
	AnalysisStatusProcessing AnalysisStatus = "processing"
	AnalysisStatusCompleted  AnalysisStatus = "completed"
	AnalysisStatusFailed     AnalysisStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisStatusCompleted || s == AnalysisStatusFailed
}

// AnalysisRequest is one tracking entry, keyed by RequestID.
type AnalysisRequest struct {
	RequestID        string                 `json:"request_id" msgpack:"request_id"`
	OriginalFilename string                 `json:"original_filename" msgpack:"original_filename"`
	StoredPath       string                 `json:"stored_path" msgpack:"stored_path"`
	MediaType        string                 `json:"media_type,omitempty" msgpack:"media_type,omitempty"`
	Size             int64                  `json:"size" msgpack:"size"`
	Status           AnalysisStatus         `json:"status" msgpack:"status"`
	Progress         int                    `json:"progress" msgpack:"progress"`
	Result           map[string]interface{} `json:"result" msgpack:"result"`
	Error            string                 `json:"error,omitempty" msgpack:"error,omitempty"`
	CreatedAt        time.Time              `json:"created_at" msgpack:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at" msgpack:"updated_at"`
}

// NewAnalysisRequest creates an entry in processing status with no progress and no result.
func NewAnalysisRequest(id string, file *FileInfo, mediaType string) *AnalysisRequest {
	now := time.Now()
	return &AnalysisRequest{
		RequestID:        id,
		OriginalFilename: file.Name,
		StoredPath:       file.Path,
		MediaType:        mediaType,
		Size:             file.Size,
		Status:           AnalysisStatusProcessing,
		Progress:         0,
		Result:           nil,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Clone returns a copy that can be handed out without holding the tracker lock.
func (r *AnalysisRequest) Clone() *AnalysisRequest {
	c := *r
	if r.Result != nil {
		c.Result = make(map[string]interface{}, len(r.Result))
		for k, v := range r.Result {
			c.Result[k] = v
		}
	}
	return &c
}

// AnalysisJob is the unit of work handed to an analysis worker.
type AnalysisJob struct {
	RequestID        string    `json:"request_id"`
	OriginalFilename string    `json:"original_filename"`
	StoredPath       string    `json:"stored_path"`
	MediaType        string    `json:"media_type,omitempty"`
	Size             int64     `json:"size"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// Job builds the worker message for this request.
func (r *AnalysisRequest) Job() AnalysisJob {
	return AnalysisJob{
		RequestID:        r.RequestID,
		OriginalFilename: r.OriginalFilename,
		StoredPath:       r.StoredPath,
		MediaType:        r.MediaType,
		Size:             r.Size,
		SubmittedAt:      r.CreatedAt,
	}
}
