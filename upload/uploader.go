// Package upload uploads a file to object storage as a resumable multipart upload.
//
// An Uploader splits the file into parts, opens an upload session on the backend, PUTs the
// parts to presigned URLs under bounded concurrency and completes the session. The upload can
// be paused, resumed and aborted from other goroutines while it is in flight.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/coursemart/go-uploadutils/upload/chunkuploader"
	"github.com/coursemart/go-uploadutils/upload/session"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SessionClient manages the backend side of a multipart upload.
type SessionClient interface {
	Initiate(ctx context.Context, request session.InitiateRequest) (session.Session, error)
	GetUploadURLs(ctx context.Context, key, uploadID string, parts int) ([]string, error)
	Complete(ctx context.Context, key, uploadID string, parts []chunkuploader.CompletedPart) (string, error)
}

// PartUploader uploads a single part to its presigned URL.
type PartUploader interface {
	UploadPart(ctx context.Context, part chunkuploader.FilePart, url string, onProgress chunkuploader.ProgressFunc) (chunkuploader.CompletedPart, error)
}

// Controls are the operations that may be called while an upload is in flight.
type Controls interface {
	Pause()
	Resume(ctx context.Context, onProgress ProgressFunc) (*Result, error)
	Abort()
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithConcurrency sets the maximum number of parts uploaded at the same time.
func WithConcurrency(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.concurrency = n
		}
	}
}

// WithChunkSize sets the part size of new uploads.
func WithChunkSize(size int64) Option {
	return func(u *Uploader) {
		if size > 0 {
			u.chunkSize = size
		}
	}
}

// WithTracker enables analytics events for the upload lifecycle.
func WithTracker(tracker analytics.Tracker) Option {
	return func(u *Uploader) {
		u.tracker.tracker = tracker
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(u *Uploader) {
		u.metrics = metrics
	}
}

// Uploader coordinates the multipart upload of one file. Use a new Uploader for every file.
type Uploader struct {
	id          string
	client      SessionClient
	parts       PartUploader
	logger      log.Logger
	concurrency int
	chunkSize   int64
	tracker     uploadTracker
	metrics     *Metrics

	mu      sync.Mutex
	state   *UploadState
	file    File
	running bool
	cancel  context.CancelCauseFunc
}

var _ Controls = (*Uploader)(nil)

// NewUploader creates an Uploader.
func NewUploader(client SessionClient, parts PartUploader, logger log.Logger, opts ...Option) *Uploader {
	id := uuid.NewString()
	u := &Uploader{
		id:          id,
		client:      client,
		parts:       parts,
		logger:      logger,
		concurrency: chunkuploader.DefaultConcurrency,
		chunkSize:   chunkuploader.DefaultChunkSize,
		tracker:     uploadTracker{id: id},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// ID identifies the Uploader in logs and analytics events.
func (u *Uploader) ID() string {
	return u.id
}

// UploadFile uploads file into folder. It blocks until the upload completes, fails, is paused
// or is aborted. A paused or aborted upload returns a Result with the matching Status and a nil
// error. After a failure the confirmed parts are kept and Resume continues the upload.
func (u *Uploader) UploadFile(ctx context.Context, file File, folder string, onProgress ProgressFunc) (*Result, error) {
	if file == nil || file.Size() <= 0 {
		return nil, ErrEmptyFile
	}

	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return nil, ErrUploadInProgress
	}
	if u.state != nil {
		u.mu.Unlock()
		return nil, ErrUploadStarted
	}

	state := &UploadState{
		TotalChunks: chunkuploader.PartCount(file.Size(), u.chunkSize),
		FileName:    file.Name(),
		Folder:      folder,
		FileSize:    file.Size(),
		ChunkSize:   u.chunkSize,
	}
	u.state = state
	u.file = file
	runCtx := u.startLocked(ctx)
	u.mu.Unlock()

	u.logger.Infof("Uploading %s (%s) in %d parts", file.Name(), units.HumanSize(float64(file.Size())), state.TotalChunks)

	return u.run(runCtx, state, file, onProgress)
}

// Resume continues a paused or failed upload. Only the parts without a confirmed ETag are
// uploaded, to freshly requested URLs.
func (u *Uploader) Resume(ctx context.Context, onProgress ProgressFunc) (*Result, error) {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return nil, ErrUploadInProgress
	}
	if u.state == nil || u.file == nil {
		u.mu.Unlock()
		return nil, ErrNoUploadState
	}

	state := u.state
	file := u.file
	runCtx := u.startLocked(ctx)
	u.mu.Unlock()

	u.logger.Infof("Resuming upload of %s, %d of %d parts already uploaded", file.Name(), state.UploadedChunks, state.TotalChunks)

	return u.run(runCtx, state, file, onProgress)
}

// Pause stops the running upload. Parts in flight are discarded and uploaded again on Resume.
func (u *Uploader) Pause() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running {
		u.logger.Debugf("[%s] Pausing upload", u.id)
		u.cancel(errPaused)
	}
}

// Abort stops the running upload and discards its state. The session is never completed.
func (u *Uploader) Abort() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.logger.Debugf("[%s] Aborting upload", u.id)

	if !u.running && u.state != nil {
		u.tracker.logAborted(*u.state, 0)
		u.metrics.uploadFinished(string(StatusAborted))
	}

	u.state = nil
	u.file = nil
	if u.running {
		u.cancel(errAborted)
	}
}

// State returns a copy of the resume checkpoint, if there is one.
func (u *Uploader) State() (UploadState, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state == nil {
		return UploadState{}, false
	}
	return u.state.clone(), true
}

// RestoreState loads a checkpoint saved from State so that Resume can continue it, e.g. in a
// new process. file must be the same file the checkpoint was created for.
func (u *Uploader) RestoreState(file File, state UploadState) error {
	if err := state.validate(); err != nil {
		return err
	}
	if file == nil || file.Size() != state.FileSize {
		return fmt.Errorf("%w: file size does not match", ErrInvalidState)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running {
		return ErrUploadInProgress
	}

	restored := state.clone()
	restored.UploadedChunks = len(restored.CompletedParts)
	u.state = &restored
	u.file = file
	return nil
}

func (u *Uploader) startLocked(ctx context.Context) context.Context {
	runCtx, cancel := context.WithCancelCause(ctx)
	u.running = true
	u.cancel = cancel
	return runCtx
}

func (u *Uploader) finish() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.cancel(nil)
	u.cancel = nil
	u.running = false
}

func (u *Uploader) run(ctx context.Context, state *UploadState, file File, onProgress ProgressFunc) (*Result, error) {
	defer u.finish()

	start := time.Now()
	location, err := u.upload(ctx, state, file, onProgress)
	took := time.Since(start)
	snapshot := u.snapshot(state)

	if err == nil {
		u.mu.Lock()
		if u.state == state {
			u.state = nil
			u.file = nil
		}
		u.mu.Unlock()

		u.logger.Donef("Uploaded %s in %s: %s", file.Name(), took.Round(time.Second), location)
		u.tracker.logCompleted(snapshot, took)
		u.metrics.uploadFinished(string(StatusCompleted))
		return &Result{Status: StatusCompleted, Location: location, ObjectKey: snapshot.ObjectKey}, nil
	}

	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errAborted):
		u.logger.Warnf("Upload of %s aborted", file.Name())
		u.tracker.logAborted(snapshot, took)
		u.metrics.uploadFinished(string(StatusAborted))
		return &Result{Status: StatusAborted, ObjectKey: snapshot.ObjectKey}, nil
	case errors.Is(cause, errPaused):
		u.logger.Infof("Upload of %s paused, %d of %d parts uploaded", file.Name(), snapshot.UploadedChunks, snapshot.TotalChunks)
		u.tracker.logPaused(snapshot, took)
		u.metrics.uploadFinished(string(StatusPaused))
		return &Result{Status: StatusPaused, ObjectKey: snapshot.ObjectKey}, nil
	default:
		u.logger.Errorf("Upload of %s failed: %s", file.Name(), err)
		u.tracker.logFailed(snapshot, took, err)
		u.metrics.uploadFinished("failed")
		return nil, err
	}
}

func (u *Uploader) upload(ctx context.Context, state *UploadState, file File, onProgress ProgressFunc) (string, error) {
	snapshot := u.snapshot(state)

	if snapshot.SessionID == "" {
		sess, err := u.client.Initiate(ctx, session.InitiateRequest{
			FileName: snapshot.FileName,
			FileType: file.ContentType(),
			Folder:   snapshot.Folder,
			FileSize: snapshot.FileSize,
		})
		if err != nil {
			return "", err
		}

		u.mu.Lock()
		state.SessionID = sess.UploadID
		state.ObjectKey = sess.Key
		u.mu.Unlock()

		snapshot.SessionID = sess.UploadID
		snapshot.ObjectKey = sess.Key
	}

	plan := chunkuploader.Plan(snapshot.FileSize, snapshot.ChunkSize)
	remaining := snapshot.remainingParts()

	var base int64
	for _, p := range snapshot.CompletedParts {
		base += plan[p.PartNumber-1].Size
	}
	progress := newProgressTracker(snapshot.FileSize, base, onProgress)
	progress.report()

	if len(remaining) > 0 {
		// Presigned URLs are issued for parts 1..N, remaining parts pick theirs by part number.
		urls, err := u.client.GetUploadURLs(ctx, snapshot.ObjectKey, snapshot.SessionID, snapshot.TotalChunks)
		if err != nil {
			return "", err
		}

		provider := chunkuploader.NewReaderAtChunkProvider(file, plan)
		if err := u.uploadParts(ctx, state, provider, remaining, urls, progress); err != nil {
			return "", err
		}
	}

	if ctx.Err() != nil {
		return "", context.Cause(ctx)
	}

	completed := u.snapshot(state).CompletedParts
	if len(completed) != snapshot.TotalChunks {
		return "", fmt.Errorf("%w: %d of %d parts uploaded", session.ErrInvalidParts, len(completed), snapshot.TotalChunks)
	}

	return u.client.Complete(ctx, snapshot.ObjectKey, snapshot.SessionID, completed)
}

// uploadParts fans the remaining parts out under the concurrency limit. The first failing part
// cancels the others and queued parts are never started.
func (u *Uploader) uploadParts(ctx context.Context, state *UploadState, provider chunkuploader.ChunkProvider, remaining []int, urls []string, progress *progressTracker) error {
	limiter := chunkuploader.NewLimiter(u.concurrency)
	partCtx, cancelParts := context.WithCancelCause(ctx)
	defer cancelParts(nil)

	var g errgroup.Group
	for _, partNumber := range remaining {
		partNumber := partNumber

		if err := limiter.Acquire(partCtx); err != nil {
			break
		}
		if partCtx.Err() != nil {
			limiter.Release()
			break
		}
		u.logger.Debugf("[%s] Starting part %d [in flight=%d/%d]", u.id, partNumber, limiter.InUse(), limiter.Size())

		g.Go(func() error {
			defer limiter.Release()

			part, err := chunkuploader.FilePartOf(provider, partNumber)
			if err != nil {
				cancelParts(err)
				return err
			}

			u.metrics.partStarted()
			defer u.metrics.partFinished()

			completed, err := u.parts.UploadPart(partCtx, part, urls[partNumber-1], func(loaded int64) {
				progress.update(partNumber, loaded)
			})
			if err != nil {
				u.metrics.partFailed(err)
				if !errors.Is(err, chunkuploader.ErrAborted) {
					u.logger.Warnf("[%s] Part %d failed: %s", u.id, partNumber, err)
				}
				cancelParts(err)
				return err
			}

			progress.update(partNumber, part.Size)
			u.metrics.partUploaded(part.Size)
			u.recordCompleted(state, completed)
			return nil
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if cause := context.Cause(partCtx); cause != nil {
		return cause
	}
	return err
}

func (u *Uploader) recordCompleted(state *UploadState, part chunkuploader.CompletedPart) {
	u.mu.Lock()
	defer u.mu.Unlock()

	state.addCompleted(part)
}

func (u *Uploader) snapshot(state *UploadState) UploadState {
	u.mu.Lock()
	defer u.mu.Unlock()

	return state.clone()
}
