// Package archive packs a directory upload source into a single zstd compressed tar file.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zstd"
)

// Extension of the archives created by Archiver.
const Extension = ".tar.zst"

// ErrEmptyDirectory is returned when there is nothing to archive.
var ErrEmptyDirectory = errors.New("directory has no files to archive")

// DependencyChecker ...
type DependencyChecker interface {
	CheckDependencies() bool
}

// BinaryChecker reports whether the tar and zstd binaries are installed.
type BinaryChecker struct {
	logger  log.Logger
	envRepo env.Repository
}

// NewBinaryChecker ...
func NewBinaryChecker(logger log.Logger, envRepo env.Repository) *BinaryChecker {
	return &BinaryChecker{
		logger:  logger,
		envRepo: envRepo,
	}
}

// CheckDependencies ...
func (c *BinaryChecker) CheckDependencies() bool {
	return c.checkDependency("tar") && c.checkDependency("zstd")
}

func (c *BinaryChecker) checkDependency(binaryName string) bool {
	cmd := command.NewFactory(c.envRepo).Create("which", []string{binaryName}, nil)
	c.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	_, err := cmd.RunAndReturnTrimmedCombinedOutput()
	return err == nil
}

// Archiver ...
type Archiver struct {
	logger            log.Logger
	envRepo           env.Repository
	dependencyChecker DependencyChecker
}

// NewArchiver creates an Archiver. The installed tar and zstd binaries are preferred when
// dependencyChecker reports them, otherwise the archive is written natively.
func NewArchiver(logger log.Logger, envRepo env.Repository, dependencyChecker DependencyChecker) *Archiver {
	return &Archiver{
		logger:            logger,
		envRepo:           envRepo,
		dependencyChecker: dependencyChecker,
	}
}

// Compress archives the content of dir into archivePath. Entry names are relative to dir.
// Paths matching any of the exclude glob patterns (doublestar syntax, relative to dir) are
// left out.
func (a *Archiver) Compress(archivePath, dir string, excludes []string) error {
	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern: %s", pattern)
		}
	}

	files, nonDirs, err := collectFiles(dir, excludes)
	if err != nil {
		return err
	}
	if nonDirs == 0 {
		return ErrEmptyDirectory
	}

	if a.dependencyChecker == nil || !a.dependencyChecker.CheckDependencies() {
		a.logger.Infof("Falling back to native implementation of zstd.")
		if err := a.compressWithGoLib(archivePath, dir, files); err != nil {
			return fmt.Errorf("compress files: %w", err)
		}
		return nil
	}

	a.logger.Infof("Using installed zstd binary")
	if err := a.compressWithBinary(archivePath, dir, files); err != nil {
		return fmt.Errorf("compress files: %w", err)
	}
	return nil
}

// collectFiles returns the slash separated paths under dir that are not excluded, parents first,
// and the number of entries that are not directories.
func collectFiles(dir string, excludes []string) ([]string, int, error) {
	var files []string
	nonDirs := 0
	err := filepath.WalkDir(dir, func(pth string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, pth)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if isExcluded(rel, excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		files = append(files, rel)
		if !d.IsDir() {
			nonDirs++
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("iterate on files: %w", err)
	}
	return files, nonDirs, nil
}

func isExcluded(rel string, excludes []string) bool {
	for _, pattern := range excludes {
		if match, err := doublestar.Match(pattern, rel); err == nil && match {
			return true
		}
	}
	return false
}

func (a *Archiver) compressWithGoLib(archivePath, dir string, files []string) (err error) {
	archiveFile, err := os.OpenFile(archivePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if cerr := archiveFile.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive file: %w", cerr)
		}
	}()

	zstdWriter, err := zstd.NewWriter(archiveFile)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zstdWriter)

	for _, rel := range files {
		if err := writeEntry(tw, dir, rel); err != nil {
			return err
		}
	}

	// produce tar
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	// produce zstd
	if err := zstdWriter.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}

	return nil
}

func writeEntry(tw *tar.Writer, dir, rel string) error {
	file := filepath.Join(dir, filepath.FromSlash(rel))
	fi, err := os.Lstat(file)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	var link string
	if fi.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(file); err != nil {
			return fmt.Errorf("read symlink: %w", err)
		}
	}

	header, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return fmt.Errorf("create file info header: %w", err)
	}
	header.Name = rel
	if fi.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar file header: %w", err)
	}

	// nothing more to do for non-regular files or directories
	if !fi.Mode().IsRegular() {
		return nil
	}

	data, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	if _, err := io.Copy(tw, data); err != nil {
		_ = data.Close()
		return fmt.Errorf("copy to file: %w", err)
	}
	if err := data.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	return nil
}

func (a *Archiver) compressWithBinary(archivePath, dir string, files []string) error {
	listFile, err := os.CreateTemp("", "archive-files-*.txt")
	if err != nil {
		return fmt.Errorf("create file list: %w", err)
	}
	defer func() {
		if err := os.Remove(listFile.Name()); err != nil {
			a.logger.Warnf("Failed to remove file list: %s", err)
		}
	}()

	if _, err := listFile.WriteString(strings.Join(files, "\n") + "\n"); err != nil {
		_ = listFile.Close()
		return fmt.Errorf("write file list: %w", err)
	}
	if err := listFile.Close(); err != nil {
		return fmt.Errorf("close file list: %w", err)
	}

	/*
		tar arguments:
		--use-compress-program: Pipe the output to zstd instead of using the built-in gzip compression
		--no-recursion: Only the listed entries are archived, exclusions are already applied
		-C: Entry names are relative to the source directory
		-c: Create archive
		-f: Output file
		-T: Read the entries from the file list
	*/
	tarArgs := []string{
		"--use-compress-program", "zstd --threads=0", // Use CPU count threads
		"--no-recursion",
		"-C", dir,
		"-c",
		"-f", archivePath,
		"-T", listFile.Name(),
	}

	cmd := command.NewFactory(a.envRepo).Create("tar", tarArgs, nil)
	a.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("command failed with exit status %d (%s):\n%w", exitErr.ExitCode(), cmd.PrintableCommandArgs(), errors.New(out))
		}
		return fmt.Errorf("executing command failed (%s): %w", cmd.PrintableCommandArgs(), err)
	}

	return nil
}

// Decompress extracts an archive created by Compress into destinationDirectory.
func (a *Archiver) Decompress(archivePath, destinationDirectory string) error {
	compressedFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("read file %s: %w", archivePath, err)
	}
	defer func() {
		if err := compressedFile.Close(); err != nil {
			a.logger.Warnf("Failed to close archive: %s", err)
		}
	}()

	zr, err := zstd.NewReader(compressedFile)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar file: %w", err)
		}

		target := filepath.Join(destinationDirectory, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(target, filepath.Clean(destinationDirectory)+string(os.PathSeparator)) {
			return fmt.Errorf("entry outside of destination: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create target directories: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("create target directories: %w", err)
			}
			fileToWrite, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("create file: %w", err)
			}
			if _, err := io.Copy(fileToWrite, tr); err != nil {
				_ = fileToWrite.Close()
				return fmt.Errorf("copy content to file: %w", err)
			}
			// closed per entry, a deferred close would keep every file open until the end
			if err := fileToWrite.Close(); err != nil {
				return fmt.Errorf("write file: %w", err)
			}
		case tar.TypeSymlink:
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("symlink file: %w", err)
			}
		}
	}
	return nil
}
