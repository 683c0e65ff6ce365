package session

import (
	"encoding/json"

	"github.com/coursemart/go-uploadutils/upload/chunkuploader"
)

const (
	initiateUploadPath = "/api/uploads/initiate-upload"
	uploadURLsPath     = "/api/uploads/get-upload-urls"
	completeUploadPath = "/api/uploads/complete-upload"
)

// InitiateRequest describes the file of a new multipart upload.
type InitiateRequest struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	Folder   string `json:"folder"`
	FileSize int64  `json:"fileSize"`
}

// Session identifies a multipart upload on the backend.
type Session struct {
	UploadID string `json:"uploadId"`
	Key      string `json:"key"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type uploadURLsRequest struct {
	Key      string `json:"key"`
	UploadID string `json:"uploadId"`
	Parts    int    `json:"parts"`
}

type uploadURL struct {
	URL        string `json:"url"`
	PartNumber int    `json:"partNumber"`
}

type uploadURLsResponse struct {
	URLs []uploadURL `json:"urls"`
}

type completeRequest struct {
	Key      string                        `json:"key"`
	UploadID string                        `json:"uploadId"`
	Parts    []chunkuploader.CompletedPart `json:"parts"`
}

type completeResponse struct {
	Location string `json:"location"`
}
