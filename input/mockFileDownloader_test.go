package input

import (
	"context"
	"os"

	"github.com/stretchr/testify/mock"
)

// MockFileDownloader ...
type MockFileDownloader struct {
	mock.Mock
}

// Get ...
func (m *MockFileDownloader) Get(ctx context.Context, destination, source string) error {
	args := m.Called(destination, source)
	return args.Error(0)
}

// GivenGetFails ...
func (m *MockFileDownloader) GivenGetFails(reason error) *MockFileDownloader {
	m.On("Get", mock.Anything, mock.Anything).Return(reason)
	return m
}

// GivenGetSucceed writes content to the destination like a real download.
func (m *MockFileDownloader) GivenGetSucceed(content string) *MockFileDownloader {
	m.On("Get", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		if err := os.WriteFile(args.String(0), []byte(content), 0644); err != nil {
			panic(err)
		}
	})
	return m
}

// MockArchiver ...
type MockArchiver struct {
	mock.Mock
}

// Compress ...
func (m *MockArchiver) Compress(archivePath, dir string, excludes []string) error {
	args := m.Called(archivePath, dir, excludes)
	return args.Error(0)
}
