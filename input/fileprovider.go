// Package input resolves the upload source given on the command line to a single local file.
package input

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/coursemart/go-uploadutils/archive"
	"github.com/melbahja/got"
)

const (
	fileScheme  = "file://"
	httpScheme  = "http://"
	httpsScheme = "https://"
)

// FileDownloader ...
type FileDownloader interface {
	Get(ctx context.Context, destination, source string) error
}

// Archiver packs a directory into a single file.
type Archiver interface {
	Compress(archivePath, dir string, excludes []string) error
}

// Downloader downloads remote sources with parallel range requests over a retrying HTTP client.
type Downloader struct {
	client *http.Client
}

// NewDownloader ...
func NewDownloader(logger log.Logger) Downloader {
	return Downloader{client: retryhttp.NewClient(logger).StandardClient()}
}

// Get downloads source into destination.
func (d Downloader) Get(ctx context.Context, destination, source string) error {
	downloader := got.New()
	downloader.Client = d.client

	return downloader.Do(got.NewDownload(ctx, source, destination))
}

// FileProvider returns the local path of an upload source. The source is either a local path,
// optionally with the `file://` scheme, or an `http(s)://` URL that is downloaded to a temporary
// location. A directory is archived into a single `.tar.zst` file.
type FileProvider struct {
	downloader   FileDownloader
	archiver     Archiver
	excludes     []string
	pathProvider pathutil.PathProvider
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
	logger       log.Logger
}

// NewFileProvider creates a FileProvider. excludes are the glob patterns left out of archived
// directories.
func NewFileProvider(downloader FileDownloader, archiver Archiver, excludes []string, logger log.Logger) FileProvider {
	return FileProvider{
		downloader:   downloader,
		archiver:     archiver,
		excludes:     excludes,
		pathProvider: pathutil.NewPathProvider(),
		pathModifier: pathutil.NewPathModifier(),
		pathChecker:  pathutil.NewPathChecker(),
		logger:       logger,
	}
}

// LocalPath ...
func (p FileProvider) LocalPath(ctx context.Context, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", fmt.Errorf("upload source is not defined")
	}

	var localPath string
	var err error
	switch {
	case strings.HasPrefix(source, httpScheme), strings.HasPrefix(source, httpsScheme):
		localPath, err = p.downloadFile(ctx, source)
	default:
		localPath, err = p.pathModifier.AbsPath(strings.TrimPrefix(source, fileScheme))
	}
	if err != nil {
		return "", err
	}

	isDir, err := p.pathChecker.IsDirExists(localPath)
	if err != nil {
		return "", fmt.Errorf("check source: %w", err)
	}
	if isDir {
		return p.archiveDir(localPath)
	}

	exists, err := p.pathChecker.IsPathExists(localPath)
	if err != nil {
		return "", fmt.Errorf("check source: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("upload source does not exist: %s", localPath)
	}

	return localPath, nil
}

func (p FileProvider) downloadFile(ctx context.Context, source string) (string, error) {
	tmpDir, err := p.pathProvider.CreateTempDir("upload-source")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	fileName, err := fileNameFromURL(source)
	if err != nil {
		return "", fmt.Errorf("failed to extract filename from URL %s: %w", source, err)
	}

	localPath := filepath.Join(tmpDir, fileName)
	p.logger.Printf("Downloading %s", source)
	if err := p.downloader.Get(ctx, localPath, source); err != nil {
		return "", fmt.Errorf("failed to download file from %s: %w", source, err)
	}

	return localPath, nil
}

func (p FileProvider) archiveDir(dir string) (string, error) {
	if p.archiver == nil {
		return "", fmt.Errorf("upload source is a directory: %s", dir)
	}

	tmpDir, err := p.pathProvider.CreateTempDir("upload-archive")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	archivePath := filepath.Join(tmpDir, filepath.Base(dir)+archive.Extension)
	p.logger.Printf("Archiving directory %s", dir)
	if err := p.archiver.Compress(archivePath, dir, p.excludes); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", dir, err)
	}

	return archivePath, nil
}

// fileNameFromURL returns the last path segment of a URL, query and fragment excluded.
func fileNameFromURL(source string) (string, error) {
	parsedURL, err := url.Parse(source)
	if err != nil {
		return "", err
	}

	name := filepath.Base(parsedURL.Path)
	if name == "." || name == "/" {
		return "", fmt.Errorf("URL has no file name")
	}
	return name, nil
}
