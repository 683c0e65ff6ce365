package chunkuploader

import (
	"errors"
	"fmt"
)

// ErrAborted is returned for a part whose upload was cancelled through its context.
// It marks the pause/abort path and is not a transfer failure.
var ErrAborted = errors.New("part upload aborted")

// ErrMissingETag is matched by MissingETagError.
var ErrMissingETag = errors.New("no ETag in response")

// NetworkError is a transport failure or a non-2xx response for a single part.
type NetworkError struct {
	PartNumber int
	// StatusCode is 0 when no response was received.
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload part %d: status %d: %v", e.PartNumber, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upload part %d: %v", e.PartNumber, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// MissingETagError is returned when the storage backend accepted a part without an ETag header.
type MissingETagError struct {
	PartNumber int
}

func (e *MissingETagError) Error() string {
	return fmt.Sprintf("upload part %d: %s", e.PartNumber, ErrMissingETag)
}

func (e *MissingETagError) Is(target error) bool {
	return target == ErrMissingETag
}

type abortedError struct {
	partNumber int
	cause      error
}

func (e *abortedError) Error() string {
	return fmt.Sprintf("upload part %d: %s: %v", e.partNumber, ErrAborted, e.cause)
}

func (e *abortedError) Is(target error) bool {
	return target == ErrAborted
}

func (e *abortedError) Unwrap() error {
	return e.cause
}
