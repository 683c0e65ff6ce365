package upload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
)

// NewTracker creates the analytics tracker of upload lifecycle events. The properties are
// attached to every event.
func NewTracker(logger log.Logger, properties analytics.Properties) analytics.Tracker {
	return analytics.NewDefaultTracker(logger, properties)
}

type uploadTracker struct {
	tracker analytics.Tracker
	id      string
}

func (t uploadTracker) properties(state UploadState, took time.Duration) analytics.Properties {
	return analytics.Properties{
		"upload_id":       t.id,
		"file_size_bytes": state.FileSize,
		"chunk_size":      state.ChunkSize,
		"total_chunks":    state.TotalChunks,
		"uploaded_chunks": state.UploadedChunks,
		"duration_s":      took.Truncate(time.Second).Seconds(),
	}
}

func (t uploadTracker) logCompleted(state UploadState, took time.Duration) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue("upload_completed", t.properties(state, took))
}

func (t uploadTracker) logPaused(state UploadState, took time.Duration) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue("upload_paused", t.properties(state, took))
}

func (t uploadTracker) logAborted(state UploadState, took time.Duration) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue("upload_aborted", t.properties(state, took))
}

func (t uploadTracker) logFailed(state UploadState, took time.Duration, err error) {
	if t.tracker == nil {
		return
	}
	p := t.properties(state, took)
	p["error"] = err.Error()
	t.tracker.Enqueue("upload_failed", p)
}
