// Command upload-file uploads a file, a directory or a remote file to object storage through
// the multipart upload API. It is configured with UPLOAD_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/coursemart/go-uploadutils/archive"
	"github.com/coursemart/go-uploadutils/auth"
	"github.com/coursemart/go-uploadutils/export"
	"github.com/coursemart/go-uploadutils/input"
	"github.com/coursemart/go-uploadutils/upload"
	"github.com/coursemart/go-uploadutils/upload/chunkuploader"
	"github.com/coursemart/go-uploadutils/upload/session"
	"github.com/docker/go-units"
	"github.com/prometheus/client_golang/prometheus"
)

const resumeWait = 5 * time.Second

func main() {
	logger := log.NewLogger()
	if err := run(logger); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	envRepo := env.NewRepository()

	config, err := upload.NewConfig(envRepo)
	if err != nil {
		return fmt.Errorf("failed to parse inputs: %w", err)
	}
	logger.EnableDebugLog(config.Verbose)
	printConfig(logger, config)

	ctx := context.Background()

	provider := input.NewFileProvider(
		input.NewDownloader(logger),
		archive.NewArchiver(logger, envRepo, archive.NewBinaryChecker(logger, envRepo)),
		config.Excludes,
		logger,
	)
	localPath, err := provider.LocalPath(ctx, config.Source)
	if err != nil {
		return fmt.Errorf("failed to resolve upload source: %w", err)
	}

	file, err := upload.OpenFile(localPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Warnf("Failed to close %s: %s", localPath, err)
		}
	}()

	registry := prometheus.NewRegistry()
	tracker := upload.NewTracker(logger, analytics.Properties{
		"concurrency":  config.Concurrency,
		"chunk_size":   config.ChunkSize,
		"content_type": file.ContentType(),
	})
	defer tracker.Wait()

	parts := chunkuploader.New(chunkuploader.DefaultConfig(), logger)
	defer parts.CloseIdleConnections()

	uploader := upload.NewUploader(
		newSessionClient(config, logger),
		parts,
		logger,
		upload.WithConcurrency(config.Concurrency),
		upload.WithChunkSize(config.ChunkSize),
		upload.WithTracker(tracker),
		upload.WithMetrics(upload.NewMetrics(registry)),
	)

	stop := handleSignals(uploader, logger)
	defer stop()

	result, err := uploadWithResume(ctx, uploader, file, config, logger)
	logStats(logger, parts.Stats())

	exporter := export.NewExporter(command.NewFactory(envRepo))
	exportResult(exporter, uploader, result, err, config, logger)

	if config.MetricsFile != "" {
		if werr := prometheus.WriteToTextfile(config.MetricsFile, registry); werr != nil {
			logger.Warnf("Failed to write metrics: %s", werr)
		}
	}

	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}

func printConfig(logger log.Logger, config upload.Config) {
	logger.Infof("Configuration:")
	logger.Printf("- API URL: %s", config.APIBaseURL)
	logger.Printf("- Access token: %s", config.AccessToken)
	logger.Printf("- Refresh token: %s", config.RefreshToken)
	logger.Printf("- Source: %s", config.Source)
	logger.Printf("- Folder: %s", config.Folder)
	logger.Printf("- Concurrency: %d", config.Concurrency)
	logger.Printf("- Chunk size: %s", units.BytesSize(float64(config.ChunkSize)))
	logger.Printf("- Resume attempts: %d", config.ResumeAttempts)
	logger.Println()
}

func logStats(logger log.Logger, stats *chunkuploader.Stats) {
	if stats.FinishedCount() == 0 {
		return
	}
	logger.Debugf("Uploaded %d parts (%s) in %s, average part upload time: %s",
		stats.FinishedCount(),
		units.HumanSize(float64(stats.Bytes())),
		stats.TotalDuration().Round(time.Millisecond),
		stats.Average().Round(time.Millisecond))
}

func newSessionClient(config upload.Config, logger log.Logger) *session.Client {
	httpClient := retryhttp.NewClient(logger)

	var tokens session.TokenSource
	if config.AccessToken != "" || config.RefreshToken != "" {
		tokens = auth.NewManager(
			auth.TokenPair{AccessToken: string(config.AccessToken), RefreshToken: string(config.RefreshToken)},
			auth.NewHTTPRefresher(httpClient, config.APIBaseURL, logger),
			logger,
		)
	}

	return session.NewClient(httpClient, config.APIBaseURL, tokens, logger)
}

// handleSignals pauses the upload on the first interrupt and aborts it on the second.
func handleSignals(uploader upload.Controls, logger log.Logger) func() {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		paused := false
		for {
			select {
			case <-signals:
				if !paused {
					logger.Warnf("Interrupted, pausing upload. Interrupt again to abort.")
					uploader.Pause()
					paused = true
					continue
				}
				logger.Warnf("Interrupted again, aborting upload.")
				uploader.Abort()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(signals)
		close(done)
	}
}

func uploadWithResume(ctx context.Context, uploader *upload.Uploader, file upload.File, config upload.Config, logger log.Logger) (*upload.Result, error) {
	onProgress := progressLogger(logger)

	var result *upload.Result
	var err error
	if state, ok := readState(config.StateFile, logger); ok {
		if rerr := uploader.RestoreState(file, state); rerr != nil {
			logger.Warnf("Ignoring upload checkpoint %s: %s", config.StateFile, rerr)
			result, err = uploader.UploadFile(ctx, file, config.Folder, onProgress)
		} else {
			result, err = uploader.Resume(ctx, onProgress)
		}
	} else {
		result, err = uploader.UploadFile(ctx, file, config.Folder, onProgress)
	}

	if err == nil || config.ResumeAttempts == 0 || !isRetryable(err) {
		return result, err
	}

	logger.Warnf("Upload failed: %s", err)
	rerr := retry.Times(uint(config.ResumeAttempts-1)).Wait(resumeWait).TryWithAbort(func(attempt uint) (error, bool) {
		logger.Infof("Resume attempt %d of %d", attempt+1, config.ResumeAttempts)

		result, err = uploader.Resume(ctx, onProgress)
		if err != nil {
			logger.Warnf("Resume failed: %s", err)
			return err, !isRetryable(err)
		}
		return nil, false
	})
	return result, rerr
}

// isRetryable reports whether resuming may get past err. Backend rejections are final.
func isRetryable(err error) bool {
	var networkErr *chunkuploader.NetworkError
	var backendErr *session.BackendError
	switch {
	case errors.As(err, &backendErr):
		return backendErr.StatusCode >= 500
	case errors.As(err, &networkErr), errors.Is(err, chunkuploader.ErrMissingETag):
		return true
	default:
		return false
	}
}

// progressLogger logs every tenth percent.
func progressLogger(logger log.Logger) upload.ProgressFunc {
	lastStep := -1
	return func(p upload.Progress) {
		step := p.Percentage / 10
		if step == lastStep {
			return
		}
		lastStep = step
		logger.Printf("Uploaded %s of %s (%d%%)", units.HumanSize(float64(p.Loaded)), units.HumanSize(float64(p.Total)), p.Percentage)
	}
}

func readState(pth string, logger log.Logger) (upload.UploadState, bool) {
	if pth == "" {
		return upload.UploadState{}, false
	}

	b, err := os.ReadFile(pth)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("Failed to read upload checkpoint: %s", err)
		}
		return upload.UploadState{}, false
	}

	var state upload.UploadState
	if err := json.Unmarshal(b, &state); err != nil {
		logger.Warnf("Failed to parse upload checkpoint: %s", err)
		return upload.UploadState{}, false
	}

	logger.Infof("Found upload checkpoint: %d of %d parts uploaded", state.UploadedChunks, state.TotalChunks)
	return state, true
}

func exportResult(exporter export.Exporter, uploader *upload.Uploader, result *upload.Result, uploadErr error, config upload.Config, logger log.Logger) {
	status := "failed"
	var location, objectKey string
	if result != nil {
		status = string(result.Status)
		location = result.Location
		objectKey = result.ObjectKey
	}

	if err := exporter.ExportUploadResult(status, location, objectKey); err != nil {
		logger.Warnf("Failed to export outputs: %s", err)
	}

	if config.StateFile == "" {
		return
	}

	state, ok := uploader.State()
	if !ok {
		if err := os.Remove(config.StateFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("Failed to remove upload checkpoint: %s", err)
		}
		return
	}

	b, err := json.Marshal(state)
	if err != nil {
		logger.Warnf("Failed to encode upload checkpoint: %s", err)
		return
	}
	if err := exporter.ExportOutputFileContent(string(b), config.StateFile, export.StatePathKey); err != nil {
		logger.Warnf("Failed to save upload checkpoint: %s", err)
		return
	}
	if uploadErr != nil || status == string(upload.StatusPaused) {
		logger.Printf("Upload checkpoint saved to %s, run again to resume", config.StateFile)
	}
}
