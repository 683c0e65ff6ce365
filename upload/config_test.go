package upload

import (
	"fmt"
	"testing"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	value, ok := repo.envVars[key]
	if ok {
		return value
	}
	return ""
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	var values []string
	for k, v := range repo.envVars {
		values = append(values, fmt.Sprintf("%s=%s", k, v))
	}
	return values
}

var _ env.Repository = fakeEnvRepo{}

func validEnv() map[string]string {
	return map[string]string{
		APIURLEnvKey:       "https://api.example.com",
		AccessTokenEnvKey:  "access",
		RefreshTokenEnvKey: "refresh",
		SourceEnvKey:       "./lesson.mp4",
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	config, err := NewConfig(fakeEnvRepo{envVars: validEnv()})
	require.NoError(t, err)

	assert.Equal(t, Config{
		APIBaseURL:     "https://api.example.com",
		AccessToken:    "access",
		RefreshToken:   "refresh",
		Concurrency:    6,
		ChunkSize:      8 * 1024 * 1024,
		ResumeAttempts: 0,
		Source:         "./lesson.mp4",
	}, config)
}

func TestNewConfig_AllValues(t *testing.T) {
	envVars := validEnv()
	envVars[FolderEnvKey] = "/courses/go-101/"
	envVars[ConcurrencyEnvKey] = "3"
	envVars[ChunkSizeEnvKey] = "16"
	envVars[VerboseEnvKey] = "true"
	envVars[ResumeAttemptsEnvKey] = "2"
	envVars[ExcludeEnvKey] = "**/.DS_Store\nnode_modules|*.tmp"
	envVars[StateFileEnvKey] = "/tmp/upload-state.json"
	envVars[MetricsFileEnvKey] = "/tmp/upload.prom"

	config, err := NewConfig(fakeEnvRepo{envVars: envVars})
	require.NoError(t, err)

	assert.Equal(t, "courses/go-101", config.Folder)
	assert.Equal(t, 3, config.Concurrency)
	assert.Equal(t, int64(16*1024*1024), config.ChunkSize)
	assert.True(t, config.Verbose)
	assert.Equal(t, 2, config.ResumeAttempts)
	assert.Equal(t, []string{"**/.DS_Store", "node_modules", "*.tmp"}, config.Excludes)
	assert.Equal(t, "/tmp/upload-state.json", config.StateFile)
	assert.Equal(t, "/tmp/upload.prom", config.MetricsFile)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "missing API URL", key: APIURLEnvKey, value: "", wantErr: "the variable 'UPLOAD_API_URL' is not defined"},
		{name: "relative API URL", key: APIURLEnvKey, value: "api.example.com", wantErr: "the variable 'UPLOAD_API_URL' is not a valid HTTP(S) URL: api.example.com"},
		{name: "missing source", key: SourceEnvKey, value: "", wantErr: "the variable 'UPLOAD_SOURCE' is not defined"},
		{name: "concurrency not a number", key: ConcurrencyEnvKey, value: "many", wantErr: "the variable 'UPLOAD_CONCURRENCY' is not an integer: many"},
		{name: "concurrency zero", key: ConcurrencyEnvKey, value: "0", wantErr: "the variable 'UPLOAD_CONCURRENCY' should be between 1 and 32, got 0"},
		{name: "chunk size too small", key: ChunkSizeEnvKey, value: "4", wantErr: "the variable 'UPLOAD_CHUNK_SIZE_MB' should be between 5 and 5120, got 4"},
		{name: "too many resumes", key: ResumeAttemptsEnvKey, value: "11", wantErr: "the variable 'UPLOAD_RESUME_ATTEMPTS' should be between 0 and 10, got 11"},
		{name: "verbose not a bool", key: VerboseEnvKey, value: "maybe", wantErr: "the variable 'UPLOAD_VERBOSE' is not a boolean: maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envVars := validEnv()
			envVars[tt.key] = tt.value

			_, err := NewConfig(fakeEnvRepo{envVars: envVars})
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestSecret_String(t *testing.T) {
	assert.Equal(t, "*****", Secret("token").String())
	assert.Equal(t, "", Secret("").String())
	assert.Equal(t, "*****", fmt.Sprintf("%s", Secret("token")))
}
