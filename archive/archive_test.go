package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDependencyChecker struct {
	available bool
}

func (c fakeDependencyChecker) CheckDependencies() bool {
	return c.available
}

func givenSourceDir(t *testing.T) string {
	dir := t.TempDir()
	files := map[string]string{
		"lesson-1/video.mp4":        "video",
		"lesson-1/notes.md":         "notes",
		"lesson-2/slides.pdf":       "slides",
		"node_modules/pkg/index.js": "js",
		".DS_Store":                 "junk",
	}
	for name, content := range files {
		pth := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(pth), 0755))
		require.NoError(t, os.WriteFile(pth, []byte(content), 0644))
	}
	return dir
}

func TestArchiver_CompressWithGoLib(t *testing.T) {
	archiver := NewArchiver(log.NewLogger(), env.NewRepository(), fakeDependencyChecker{available: false})

	src := givenSourceDir(t)
	archivePath := filepath.Join(t.TempDir(), "course"+Extension)
	require.NoError(t, archiver.Compress(archivePath, src, []string{"node_modules/**", "**/.DS_Store", "node_modules"}))

	dst := t.TempDir()
	require.NoError(t, archiver.Decompress(archivePath, dst))

	content, err := os.ReadFile(filepath.Join(dst, "lesson-1", "video.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "video", string(content))

	content, err = os.ReadFile(filepath.Join(dst, "lesson-2", "slides.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "slides", string(content))

	assert.NoFileExists(t, filepath.Join(dst, ".DS_Store"))
	assert.NoDirExists(t, filepath.Join(dst, "node_modules"))
}

func TestArchiver_Compress_InvalidPattern(t *testing.T) {
	archiver := NewArchiver(log.NewLogger(), env.NewRepository(), fakeDependencyChecker{})

	err := archiver.Compress(filepath.Join(t.TempDir(), "a"+Extension), givenSourceDir(t), []string{"[a-"})
	assert.Error(t, err)
}

func TestArchiver_Compress_EmptyDirectory(t *testing.T) {
	archiver := NewArchiver(log.NewLogger(), env.NewRepository(), fakeDependencyChecker{})

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "empty", "nested"), 0755))

	err := archiver.Compress(filepath.Join(t.TempDir(), "a"+Extension), src, nil)
	assert.ErrorIs(t, err, ErrEmptyDirectory)
}

func TestArchiver_Compress_EverythingExcluded(t *testing.T) {
	archiver := NewArchiver(log.NewLogger(), env.NewRepository(), fakeDependencyChecker{})

	err := archiver.Compress(filepath.Join(t.TempDir(), "a"+Extension), givenSourceDir(t), []string{"**"})
	assert.ErrorIs(t, err, ErrEmptyDirectory)
}

func TestCollectFiles(t *testing.T) {
	src := givenSourceDir(t)

	files, nonDirs, err := collectFiles(src, []string{"node_modules", "**/*.md"})
	require.NoError(t, err)
	assert.Equal(t, 3, nonDirs)
	assert.ElementsMatch(t, []string{".DS_Store", "lesson-1", "lesson-1/video.mp4", "lesson-2", "lesson-2/slides.pdf"}, files)
}
