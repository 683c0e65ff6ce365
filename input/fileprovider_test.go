package input

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/coursemart/go-uploadutils/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func givenFileProvider(downloader FileDownloader, archiver Archiver) FileProvider {
	return NewFileProvider(downloader, archiver, []string{"**/.DS_Store"}, log.NewLogger())
}

func givenLocalFile(t *testing.T, name string) string {
	pth := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(pth, []byte("content"), 0644))
	return pth
}

func Test_WhenFileNameFromURLCalled_ThenExpectCorrectValue(t *testing.T) {
	scenarios := []struct {
		input    string
		expected string
	}{
		{
			"https://cdn.example.com/lesson-1.mp4",
			"lesson-1.mp4",
		},
		{
			"https://cdn.example.com/course/notes.pdf?X-Amz-Signature=abc",
			"notes.pdf",
		},
		{
			"http://example.com/archive/0.1.1.zip#fragment",
			"0.1.1.zip",
		},
	}

	for _, scenario := range scenarios {
		// When
		actualName, err := fileNameFromURL(scenario.input)

		// Then
		assert.NoError(t, err)
		assert.Equal(t, scenario.expected, actualName)
	}
}

func Test_GivenURLWithoutFileName_WhenFileNameFromURLCalled_ThenExpectError(t *testing.T) {
	_, err := fileNameFromURL("https://cdn.example.com/")
	assert.Error(t, err)
}

func Test_GivenFileSchemePath_WhenLocalPathCalled_ThenExpectLocalFilePath(t *testing.T) {
	// Given
	pth := givenLocalFile(t, "lesson.mp4")
	downloader := new(MockFileDownloader)
	provider := givenFileProvider(downloader, nil)

	// When
	actualPath, err := provider.LocalPath(context.Background(), "file://"+pth)

	// Then
	require.NoError(t, err)
	assert.Equal(t, pth, actualPath)
	downloader.AssertNotCalled(t, "Get")
}

func Test_GivenPlainPath_WhenLocalPathCalled_ThenExpectLocalFilePath(t *testing.T) {
	// Given
	pth := givenLocalFile(t, "lesson.mp4")
	provider := givenFileProvider(new(MockFileDownloader), nil)

	// When
	actualPath, err := provider.LocalPath(context.Background(), pth)

	// Then
	require.NoError(t, err)
	assert.Equal(t, pth, actualPath)
}

func Test_GivenMissingFile_WhenLocalPathCalled_ThenExpectError(t *testing.T) {
	provider := givenFileProvider(new(MockFileDownloader), nil)

	_, err := provider.LocalPath(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}

func Test_GivenEmptySource_WhenLocalPathCalled_ThenExpectError(t *testing.T) {
	provider := givenFileProvider(new(MockFileDownloader), nil)

	_, err := provider.LocalPath(context.Background(), " ")
	assert.Error(t, err)
}

func Test_GivenRemoteFileAndDownloadFails_WhenLocalPathCalled_ThenExpectError(t *testing.T) {
	// Given
	expectedError := errors.New("some error")
	downloader := new(MockFileDownloader).GivenGetFails(expectedError)
	provider := givenFileProvider(downloader, nil)

	// When
	actualPath, err := provider.LocalPath(context.Background(), "https://cdn.example.com/lesson.mp4")

	// Then
	assert.ErrorIs(t, err, expectedError)
	assert.Empty(t, actualPath)
}

func Test_GivenRemoteFileAndDownloadSucceeds_WhenLocalPathCalled_ThenExpectDownloadedPath(t *testing.T) {
	// Given
	downloader := new(MockFileDownloader).GivenGetSucceed("video")
	provider := givenFileProvider(downloader, nil)

	// When
	actualPath, err := provider.LocalPath(context.Background(), "https://cdn.example.com/lesson.mp4?token=1")

	// Then
	require.NoError(t, err)
	assert.Equal(t, "lesson.mp4", filepath.Base(actualPath))
	downloader.AssertCalled(t, "Get", actualPath, "https://cdn.example.com/lesson.mp4?token=1")

	content, err := os.ReadFile(actualPath)
	require.NoError(t, err)
	assert.Equal(t, "video", string(content))
}

func Test_GivenDirectory_WhenLocalPathCalled_ThenExpectArchivePath(t *testing.T) {
	// Given
	dir := filepath.Join(t.TempDir(), "course")
	require.NoError(t, os.MkdirAll(dir, 0755))

	archiver := new(MockArchiver)
	archiver.On("Compress", mock.MatchedBy(func(pth string) bool {
		return strings.HasSuffix(pth, "course"+archive.Extension)
	}), dir, []string{"**/.DS_Store"}).Return(nil)
	provider := givenFileProvider(new(MockFileDownloader), archiver)

	// When
	actualPath, err := provider.LocalPath(context.Background(), dir)

	// Then
	require.NoError(t, err)
	assert.Equal(t, "course"+archive.Extension, filepath.Base(actualPath))
	archiver.AssertExpectations(t)
}

func Test_GivenDirectoryWithoutArchiver_WhenLocalPathCalled_ThenExpectError(t *testing.T) {
	provider := givenFileProvider(new(MockFileDownloader), nil)

	_, err := provider.LocalPath(context.Background(), t.TempDir())
	assert.Error(t, err)
}
