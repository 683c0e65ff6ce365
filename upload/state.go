package upload

import (
	"errors"
	"sort"

	"github.com/coursemart/go-uploadutils/upload/chunkuploader"
)

var (
	// ErrEmptyFile is returned for zero-byte files, they cannot be split into parts.
	ErrEmptyFile = errors.New("file is empty")
	// ErrNoUploadState is returned by Resume when there is nothing to resume.
	ErrNoUploadState = errors.New("no upload to resume")
	// ErrUploadInProgress is returned when an upload or resume is already running.
	ErrUploadInProgress = errors.New("upload already in progress")
	// ErrUploadStarted is returned by UploadFile when the Uploader already holds an upload.
	ErrUploadStarted = errors.New("upload already started, use Resume")
	// ErrInvalidState is returned by RestoreState for an inconsistent checkpoint.
	ErrInvalidState = errors.New("invalid upload state")

	errPaused  = errors.New("upload paused")
	errAborted = errors.New("upload aborted")
)

// Status is the outcome of an UploadFile or Resume call that returned without error.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPaused    Status = "paused"
	StatusAborted   Status = "aborted"
)

// Result ...
type Result struct {
	Status Status
	// Location is the URL of the stored object, set for StatusCompleted.
	Location  string
	ObjectKey string
}

// UploadState is the checkpoint a paused or failed upload is resumed from.
type UploadState struct {
	SessionID      string                        `json:"sessionId"`
	ObjectKey      string                        `json:"objectKey"`
	CompletedParts []chunkuploader.CompletedPart `json:"completedParts"`
	TotalChunks    int                           `json:"totalChunks"`
	UploadedChunks int                           `json:"uploadedChunks"`

	FileName  string `json:"fileName"`
	Folder    string `json:"folder"`
	FileSize  int64  `json:"fileSize"`
	ChunkSize int64  `json:"chunkSize"`
}

func (s *UploadState) clone() UploadState {
	c := *s
	c.CompletedParts = append([]chunkuploader.CompletedPart(nil), s.CompletedParts...)
	return c
}

// remainingParts returns the part numbers in 1..TotalChunks without a confirmed ETag.
func (s *UploadState) remainingParts() []int {
	done := make(map[int]bool, len(s.CompletedParts))
	for _, p := range s.CompletedParts {
		done[p.PartNumber] = true
	}

	var remaining []int
	for n := 1; n <= s.TotalChunks; n++ {
		if !done[n] {
			remaining = append(remaining, n)
		}
	}
	return remaining
}

// addCompleted records a confirmed part, replacing an earlier ETag of the same part.
func (s *UploadState) addCompleted(part chunkuploader.CompletedPart) {
	for i, p := range s.CompletedParts {
		if p.PartNumber == part.PartNumber {
			s.CompletedParts[i] = part
			return
		}
	}
	s.CompletedParts = append(s.CompletedParts, part)
	sort.Slice(s.CompletedParts, func(i, j int) bool {
		return s.CompletedParts[i].PartNumber < s.CompletedParts[j].PartNumber
	})
	s.UploadedChunks = len(s.CompletedParts)
}

func (s *UploadState) validate() error {
	if s.FileSize <= 0 || s.ChunkSize <= 0 {
		return ErrInvalidState
	}
	if s.TotalChunks != chunkuploader.PartCount(s.FileSize, s.ChunkSize) {
		return ErrInvalidState
	}
	if s.SessionID == "" && len(s.CompletedParts) > 0 {
		return ErrInvalidState
	}
	seen := map[int]bool{}
	for _, p := range s.CompletedParts {
		if p.PartNumber < 1 || p.PartNumber > s.TotalChunks || p.ETag == "" || seen[p.PartNumber] {
			return ErrInvalidState
		}
		seen[p.PartNumber] = true
	}
	return nil
}
