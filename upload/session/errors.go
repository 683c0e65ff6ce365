package session

import (
	"errors"
)

var (
	// ErrInitiation is matched by failures of the initiate-upload call.
	ErrInitiation = errors.New("initiate upload failed")
	// ErrUploadURLs is matched by failures of the get-upload-urls call.
	ErrUploadURLs = errors.New("get upload URLs failed")
	// ErrCompletion is matched by failures of the complete-upload call.
	ErrCompletion = errors.New("complete upload failed")
	// ErrInvalidResponse is returned for a malformed or inconsistent backend response.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrInvalidParts is returned when the completed parts do not form the range 1..N.
	ErrInvalidParts = errors.New("invalid completed parts")
)

// BackendError is a failure reported by the API, either as a `success: false` envelope or as
// a non-2xx status. Error returns the API's message unmodified so it can be shown to users as is.
type BackendError struct {
	// Kind is one of ErrInitiation, ErrUploadURLs or ErrCompletion.
	Kind       error
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return e.Message
}

func (e *BackendError) Unwrap() error {
	return e.Kind
}
