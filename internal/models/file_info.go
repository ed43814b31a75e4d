package models

import "time"

// FileInfo represents an upload persisted to the content directory.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"` // client-supplied filename
	Ext        string    `json:"ext"`
	Path       string    `json:"path"` // slash-separated, relative to the working directory when configured that way
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}
