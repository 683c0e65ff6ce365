package upload

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/coursemart/go-uploadutils/upload/chunkuploader"
)

// Environment variables read by NewConfig.
const (
	APIURLEnvKey         = "UPLOAD_API_URL"
	AccessTokenEnvKey    = "UPLOAD_ACCESS_TOKEN"
	RefreshTokenEnvKey   = "UPLOAD_REFRESH_TOKEN"
	FolderEnvKey         = "UPLOAD_FOLDER"
	ConcurrencyEnvKey    = "UPLOAD_CONCURRENCY"
	ChunkSizeEnvKey      = "UPLOAD_CHUNK_SIZE_MB"
	VerboseEnvKey        = "UPLOAD_VERBOSE"
	ResumeAttemptsEnvKey = "UPLOAD_RESUME_ATTEMPTS"
	SourceEnvKey         = "UPLOAD_SOURCE"
	ExcludeEnvKey        = "UPLOAD_EXCLUDE"
	StateFileEnvKey      = "UPLOAD_STATE_FILE"
	MetricsFileEnvKey    = "UPLOAD_METRICS_FILE"
)

const (
	mb = 1024 * 1024

	// S3 compatible stores reject parts below 5 MiB, except the last one.
	minChunkSizeMB = 5
	maxChunkSizeMB = 5 * 1024
	maxConcurrency = 32
	maxResumes     = 10
)

// Secret is a string that is not printed in logs.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// Config is the configuration of a command line upload.
type Config struct {
	APIBaseURL     string
	AccessToken    Secret
	RefreshToken   Secret
	Folder         string
	Concurrency    int
	ChunkSize      int64
	Verbose        bool
	ResumeAttempts int
	Source         string
	Excludes       []string
	// StateFile is where the checkpoint of an unfinished upload is written, and read back from
	// on the next run.
	StateFile string
	// MetricsFile is where the upload metrics are written in the Prometheus text format.
	MetricsFile string
}

// NewConfig reads and validates the configuration from envRepo.
func NewConfig(envRepo env.Repository) (Config, error) {
	config := Config{
		APIBaseURL:   strings.TrimSpace(envRepo.Get(APIURLEnvKey)),
		AccessToken:  Secret(strings.TrimSpace(envRepo.Get(AccessTokenEnvKey))),
		RefreshToken: Secret(strings.TrimSpace(envRepo.Get(RefreshTokenEnvKey))),
		Folder:       strings.Trim(strings.TrimSpace(envRepo.Get(FolderEnvKey)), "/"),
		Source:       strings.TrimSpace(envRepo.Get(SourceEnvKey)),
		Excludes:     parseList(envRepo.Get(ExcludeEnvKey)),
		StateFile:    strings.TrimSpace(envRepo.Get(StateFileEnvKey)),
		MetricsFile:  strings.TrimSpace(envRepo.Get(MetricsFileEnvKey)),
		Concurrency:  chunkuploader.DefaultConcurrency,
		ChunkSize:    chunkuploader.DefaultChunkSize,
	}

	if config.APIBaseURL == "" {
		return Config{}, fmt.Errorf("the variable '%s' is not defined", APIURLEnvKey)
	}
	if u, err := url.Parse(config.APIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("the variable '%s' is not a valid HTTP(S) URL: %s", APIURLEnvKey, config.APIBaseURL)
	}
	if config.Source == "" {
		return Config{}, fmt.Errorf("the variable '%s' is not defined", SourceEnvKey)
	}

	var err error
	if config.Concurrency, err = intFromEnv(envRepo, ConcurrencyEnvKey, config.Concurrency, 1, maxConcurrency); err != nil {
		return Config{}, err
	}

	chunkSizeMB, err := intFromEnv(envRepo, ChunkSizeEnvKey, int(config.ChunkSize/mb), minChunkSizeMB, maxChunkSizeMB)
	if err != nil {
		return Config{}, err
	}
	config.ChunkSize = int64(chunkSizeMB) * mb

	if config.ResumeAttempts, err = intFromEnv(envRepo, ResumeAttemptsEnvKey, 0, 0, maxResumes); err != nil {
		return Config{}, err
	}

	if v := strings.TrimSpace(envRepo.Get(VerboseEnvKey)); v != "" {
		config.Verbose, err = strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("the variable '%s' is not a boolean: %s", VerboseEnvKey, v)
		}
	}

	return config, nil
}

func intFromEnv(envRepo env.Repository, key string, defaultValue, min, max int) (int, error) {
	raw := strings.TrimSpace(envRepo.Get(key))
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("the variable '%s' is not an integer: %s", key, raw)
	}
	if value < min || value > max {
		return 0, fmt.Errorf("the variable '%s' should be between %d and %d, got %d", key, min, max, value)
	}
	return value, nil
}

// parseList splits a list given either one item per line or separated by '|'.
func parseList(raw string) []string {
	var items []string
	for _, line := range strings.Split(raw, "\n") {
		for _, item := range strings.Split(line, "|") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}
