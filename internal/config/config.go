// Package config provides server configuration with support for flags, environment
// variables, .env files and an optional TOML file.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App        AppConfig
	Logger     LoggerConfig
	Data       DataConfig
	Server     ServerConfig
	Conversion ConversionConfig
	Alignment  AlignmentConfig
	AI         AIConfig
	Inbox      InboxConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// DataConfig locates on-disk state. Every store lives under BasePath.
type DataConfig struct {
	BasePath string
}

// DatabasePath is the sqlite file holding jobs, documents, syncs and chapters.
func (d DataConfig) DatabasePath() string { return filepath.Join(d.BasePath, "pagesync.db") }

// SnapshotPath is the badger directory holding structure snapshots.
func (d DataConfig) SnapshotPath() string { return filepath.Join(d.BasePath, "snapshots") }

// BlobPath is the root of the file store.
func (d DataConfig) BlobPath() string { return filepath.Join(d.BasePath, "blobs") }

// SearchPath is the bleve index directory.
func (d DataConfig) SearchPath() string { return filepath.Join(d.BasePath, "search") }

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
	// RateLimit is requests per second allowed per client IP. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// ConversionConfig tunes the conversion worker pool.
type ConversionConfig struct {
	Workers int
	// StageTimeout bounds the wall-clock time of a single stage.
	StageTimeout time.Duration
	// PollInterval is how often idle workers look for pending jobs.
	PollInterval time.Duration
	// ReviewThreshold is the stage confidence below which a job pauses for review.
	ReviewThreshold float64
	// QAThreshold is the overall confidence the final review stage requires.
	QAThreshold float64
}

// AlignmentConfig holds narration alignment tuning. Times are in seconds.
type AlignmentConfig struct {
	Workers            int
	TailSeconds        float64
	BlockFloorSeconds  float64
	PauseBufferSeconds float64
	SnapWindowSeconds  float64
	EmptyPageSeconds   float64
	SilenceWindow      float64
	SilenceThreshold   float64
	MinSilenceSeconds  float64
	SampleRate         int
	FFmpegPath         string
	// Bitrates maps a lowercase format/extension to kbps for size-based duration estimates.
	Bitrates map[string]int
}

// AIConfig configures the optional content-classification collaborator.
type AIConfig struct {
	Provider          string
	APIKey            string
	Model             string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Enabled reports whether an AI provider is configured with credentials.
func (a AIConfig) Enabled() bool {
	return a.Provider != "" && a.Provider != "none" && a.APIKey != ""
}

// InboxConfig configures the optional watched drop directory.
type InboxConfig struct {
	Path     string
	Debounce time.Duration
}

// DefaultBitrates are kbps assumptions per container. Size-derived durations are approximate.
func DefaultBitrates() map[string]int {
	return map[string]int{
		"mp3":  128,
		"m4a":  64,
		"m4b":  64,
		"aac":  64,
		"ogg":  96,
		"opus": 48,
		"flac": 800,
		"wav":  1411,
	}
}

// LoadConfig loads configuration from the process arguments.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load builds configuration with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. TOML config file.
// 5. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("pagesync", flag.ContinueOnError)
	flags := map[string]*string{
		"ENV":                      fs.String("env", "", "Environment (development, staging, production)"),
		"LOG_LEVEL":                fs.String("log-level", "", "Log level (debug, info, warn, error)"),
		"DATA_PATH":                fs.String("data-path", "", "Base path for databases, snapshots and blobs"),
		"SERVER_PORT":              fs.String("port", "", "Server port (default: 8080)"),
		"SERVER_READ_TIMEOUT":      fs.String("read-timeout", "", "HTTP read timeout (default: 15s)"),
		"SERVER_WRITE_TIMEOUT":     fs.String("write-timeout", "", "HTTP write timeout (default: 60s)"),
		"SERVER_IDLE_TIMEOUT":      fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)"),
		"CONVERSION_WORKERS":       fs.String("workers", "", "Concurrent conversion jobs (default: 2)"),
		"CONVERSION_STAGE_TIMEOUT": fs.String("stage-timeout", "", "Per-stage wall-clock bound (default: 10m)"),
		"ALIGNMENT_FFMPEG_PATH":    fs.String("ffmpeg-path", "", "Path to ffmpeg binary (default: ffmpeg)"),
		"AI_PROVIDER":              fs.String("ai-provider", "", "AI provider (none, gemini)"),
		"INBOX_PATH":               fs.String("inbox", "", "Directory watched for new PDFs"),
	}
	envFile := fs.String("env-file", ".env", "Path to .env file")
	configFile := fs.String("config", "", "Path to TOML config file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	_ = loadEnvFile(*envFile)

	src := source{flags: map[string]string{}}
	for key, ptr := range flags {
		src.flags[key] = *ptr
	}

	path := getConfigValue(*configFile, "CONFIG_FILE", "")
	if path != "" {
		file, err := loadTOMLFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
		src.file = file
	}

	cfg, err := src.build()
	if err != nil {
		return nil, err
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// source resolves keys against flags, the environment and the config file.
type source struct {
	flags map[string]string
	file  map[string]string
	err   error
}

func (s *source) str(key, def string) string {
	if v := s.file[key]; v != "" {
		def = v
	}
	return getConfigValue(s.flags[key], key, def)
}

func (s *source) duration(key, def string) time.Duration {
	raw := s.str(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d
}

func (s *source) integer(key string, def int) int {
	raw := s.str(key, strconv.Itoa(def))
	v, err := strconv.Atoi(raw)
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v
}

func (s *source) float(key string, def float64) float64 {
	raw := s.str(key, strconv.FormatFloat(def, 'f', -1, 64))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v
}

func (s *source) list(key string) []string {
	raw := s.str(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// bitrates reads "fmt=kbps,fmt=kbps" overrides on top of DefaultBitrates.
func (s *source) bitrates(key string) map[string]int {
	out := DefaultBitrates()
	for _, pair := range s.list(key) {
		name, kbps, ok := strings.Cut(pair, "=")
		if !ok {
			if s.err == nil {
				s.err = fmt.Errorf("invalid %s entry %q (want format=kbps)", key, pair)
			}
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(kbps))
		if err != nil {
			if s.err == nil {
				s.err = fmt.Errorf("invalid %s entry %q: %w", key, pair, err)
			}
			continue
		}
		out[strings.ToLower(strings.TrimSpace(name))] = v
	}
	return out
}

func (s *source) build() (*Config, error) {
	cfg := &Config{
		App:    AppConfig{Environment: s.str("ENV", "development")},
		Logger: LoggerConfig{Level: s.str("LOG_LEVEL", "info")},
		Data:   DataConfig{BasePath: s.str("DATA_PATH", "")},
		Server: ServerConfig{
			Port:         s.str("SERVER_PORT", "8080"),
			ReadTimeout:  s.duration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: s.duration("SERVER_WRITE_TIMEOUT", "60s"),
			IdleTimeout:  s.duration("SERVER_IDLE_TIMEOUT", "60s"),
			CORSOrigins:  s.list("SERVER_CORS_ORIGINS"),
			RateLimit:    s.float("SERVER_RATE_LIMIT", 0),
			RateBurst:    s.integer("SERVER_RATE_BURST", 20),
		},
		Conversion: ConversionConfig{
			Workers:         s.integer("CONVERSION_WORKERS", 2),
			StageTimeout:    s.duration("CONVERSION_STAGE_TIMEOUT", "10m"),
			PollInterval:    s.duration("CONVERSION_POLL_INTERVAL", "5s"),
			ReviewThreshold: s.float("CONVERSION_REVIEW_THRESHOLD", 0.6),
			QAThreshold:     s.float("CONVERSION_QA_THRESHOLD", 0.7),
		},
		Alignment: AlignmentConfig{
			Workers:            s.integer("ALIGNMENT_WORKERS", 2),
			TailSeconds:        s.float("ALIGNMENT_TAIL_SECONDS", 0.25),
			BlockFloorSeconds:  s.float("ALIGNMENT_BLOCK_FLOOR_SECONDS", 0.3),
			PauseBufferSeconds: s.float("ALIGNMENT_PAUSE_BUFFER_SECONDS", 0.2),
			SnapWindowSeconds:  s.float("ALIGNMENT_SNAP_WINDOW_SECONDS", 0.5),
			EmptyPageSeconds:   s.float("ALIGNMENT_EMPTY_PAGE_SECONDS", 1.0),
			SilenceWindow:      s.float("ALIGNMENT_SILENCE_WINDOW", 0.05),
			SilenceThreshold:   s.float("ALIGNMENT_SILENCE_THRESHOLD", 0.02),
			MinSilenceSeconds:  s.float("ALIGNMENT_MIN_SILENCE_SECONDS", 0.3),
			SampleRate:         s.integer("ALIGNMENT_SAMPLE_RATE", 16000),
			FFmpegPath:         s.str("ALIGNMENT_FFMPEG_PATH", "ffmpeg"),
			Bitrates:           s.bitrates("ALIGNMENT_BITRATES"),
		},
		AI: AIConfig{
			Provider:          strings.ToLower(s.str("AI_PROVIDER", "none")),
			APIKey:            s.str("AI_API_KEY", ""),
			Model:             s.str("AI_MODEL", "gemini-2.5-flash"),
			RequestsPerSecond: s.float("AI_REQUESTS_PER_SECOND", 1),
			Burst:             s.integer("AI_BURST", 2),
			Timeout:           s.duration("AI_TIMEOUT", "60s"),
		},
		Inbox: InboxConfig{
			Path:     s.str("INBOX_PATH", ""),
			Debounce: s.duration("INBOX_DEBOUNCE", "2s"),
		},
	}
	if s.err != nil {
		return nil, s.err
	}
	return cfg, nil
}

// Validate checks that all config values are present and coherent.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{"development": true, "staging": true, "production": true}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %q (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Data.BasePath == "" {
		return errors.New("data base path cannot be empty after expansion")
	}

	if c.Server.RateLimit < 0 {
		return errors.New("server rate limit must not be negative")
	}

	if c.Conversion.Workers < 1 {
		return fmt.Errorf("conversion workers must be positive, got %d", c.Conversion.Workers)
	}
	if c.Conversion.StageTimeout <= 0 {
		return errors.New("conversion stage timeout must be positive")
	}
	if c.Conversion.ReviewThreshold < 0 || c.Conversion.ReviewThreshold > 1 {
		return fmt.Errorf("review threshold %.2f outside [0,1]", c.Conversion.ReviewThreshold)
	}
	if c.Conversion.QAThreshold < 0 || c.Conversion.QAThreshold > 1 {
		return fmt.Errorf("qa threshold %.2f outside [0,1]", c.Conversion.QAThreshold)
	}

	a := c.Alignment
	if a.Workers < 1 {
		return fmt.Errorf("alignment workers must be positive, got %d", a.Workers)
	}
	if a.TailSeconds <= 0 || a.BlockFloorSeconds <= 0 || a.SilenceWindow <= 0 || a.MinSilenceSeconds <= 0 {
		return errors.New("alignment durations must be positive")
	}
	if a.PauseBufferSeconds < 0 || a.SnapWindowSeconds < 0 || a.EmptyPageSeconds < 0 {
		return errors.New("alignment buffers must not be negative")
	}
	if a.SampleRate < 1000 {
		return fmt.Errorf("alignment sample rate %d too low", a.SampleRate)
	}

	switch c.AI.Provider {
	case "none", "gemini":
	default:
		return fmt.Errorf("unknown AI provider %q (must be none or gemini)", c.AI.Provider)
	}
	if c.AI.RequestsPerSecond <= 0 {
		return errors.New("AI requests per second must be positive")
	}

	return nil
}

func (c *Config) expandPaths() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	c.Data.BasePath, err = expandPath(c.Data.BasePath, filepath.Join(home, "PageSync", "data"))
	if err != nil {
		return fmt.Errorf("invalid data path: %w", err)
	}
	if c.Inbox.Path != "" {
		c.Inbox.Path, err = expandPath(c.Inbox.Path, "")
		if err != nil {
			return fmt.Errorf("invalid inbox path: %w", err)
		}
	}
	return nil
}

// expandPath expands ~ and makes the path absolute, using defaultPath when path is empty.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = abs
	}
	return filepath.Clean(path), nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return defaultValue
}

// loadEnvFile loads KEY=value lines into the environment without overriding existing variables.
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- path comes from the operator
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}
