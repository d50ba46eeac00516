package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	src := source{}
	cfg, err := src.build()
	require.NoError(t, err)
	cfg.Data.BasePath = "/var/lib/pagesync"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validConfig(t).Validate())
}

func TestValidate_AllEnvironments(t *testing.T) {
	tests := []struct {
		env   string
		valid bool
	}{
		{"development", true},
		{"staging", true},
		{"production", true},
		{"test", false},
		{"", false},
		{"DEVELOPMENT", false},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.App.Environment = tt.env
			if tt.valid {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestValidate_RejectsBadTuning(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Conversion.Workers = 0 }},
		{"zero stage timeout", func(c *Config) { c.Conversion.StageTimeout = 0 }},
		{"threshold above one", func(c *Config) { c.Conversion.ReviewThreshold = 1.5 }},
		{"negative snap window", func(c *Config) { c.Alignment.SnapWindowSeconds = -1 }},
		{"zero tail", func(c *Config) { c.Alignment.TailSeconds = 0 }},
		{"low sample rate", func(c *Config) { c.Alignment.SampleRate = 10 }},
		{"unknown provider", func(c *Config) { c.AI.Provider = "oracle" }},
		{"bad log level", func(c *Config) { c.Logger.Level = "verbose" }},
		{"empty data path", func(c *Config) { c.Data.BasePath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "pagesync.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
[conversion]
workers = 6
stage_timeout = "2m"

[alignment]
tail_seconds = 0.4

[alignment.bitrates]
mp3 = 192

[server]
cors_origins = ["http://a.test", "http://b.test"]
`), 0o600))

	t.Setenv("CONVERSION_WORKERS", "3")
	t.Setenv("DATA_PATH", dir)

	cfg, err := Load([]string{"-config", file, "-env-file", filepath.Join(dir, "missing.env"), "-stage-timeout", "30s"})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Conversion.Workers, "env beats file")
	assert.Equal(t, 30*time.Second, cfg.Conversion.StageTimeout, "flag beats file")
	assert.InDelta(t, 0.4, cfg.Alignment.TailSeconds, 1e-9, "file beats default")
	assert.Equal(t, 192, cfg.Alignment.Bitrates["mp3"])
	assert.Equal(t, 64, cfg.Alignment.Bitrates["m4b"])
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, dir, cfg.Data.BasePath)
	assert.Equal(t, filepath.Join(dir, "pagesync.db"), cfg.Data.DatabasePath())
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("DATA_PATH", t.TempDir())
	_, err := Load([]string{"-env-file", "/nonexistent/.env", "-stage-timeout", "soon"})
	assert.Error(t, err)
}

func TestSourceBitrates_InvalidEntry(t *testing.T) {
	src := source{file: map[string]string{"ALIGNMENT_BITRATES": "mp3"}}
	_, err := src.build()
	assert.Error(t, err)
}

func TestAIConfig_Enabled(t *testing.T) {
	assert.False(t, AIConfig{Provider: "none", APIKey: "k"}.Enabled())
	assert.False(t, AIConfig{Provider: "gemini"}.Enabled())
	assert.True(t, AIConfig{Provider: "gemini", APIKey: "k"}.Enabled())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandPath("~/pagesync", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "pagesync"), got)

	got, err = expandPath("", "/default")
	require.NoError(t, err)
	assert.Equal(t, "/default", got)

	got, err = expandPath("/a/../b", "")
	require.NoError(t, err)
	assert.Equal(t, "/b", got)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n\nPAGESYNC_TEST_A=\"one\"\nPAGESYNC_TEST_B = two\n"), 0o600))

	t.Setenv("PAGESYNC_TEST_B", "preset")
	t.Setenv("PAGESYNC_TEST_A", "")

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "one", os.Getenv("PAGESYNC_TEST_A"))
	assert.Equal(t, "preset", os.Getenv("PAGESYNC_TEST_B"))
}

func TestLoadEnvFile_InvalidFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("NOT_A_PAIR\n"), 0o600))
	assert.Error(t, loadEnvFile(path))
}
