package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Upload contains limits for chunked upload sessions.
type Upload struct {
	MaxTotalBytes     int64    `toml:"max_total_bytes"`
	MaxChunkBytes     int64    `toml:"max_chunk_bytes"`
	AllowedMimeTypes  []string `toml:"allowed_mime_types"`
	SessionTTLHours   int      `toml:"session_ttl_hours"`
	RetentionHours    int      `toml:"retention_hours"`
	MaxActiveSessions int      `toml:"max_active_sessions"`
	// MinFreeBytes is the free space that must remain on the data volume after
	// reserving a new session's declared size. Zero disables the check.
	MinFreeBytes  int64  `toml:"min_free_bytes"`
	HashAlgorithm string `toml:"hash_algorithm"`
}

// Merge contains merge pipeline settings.
type Merge struct {
	Workers                 int      `toml:"workers"`
	TimeoutSeconds          int      `toml:"timeout_seconds"`
	CompressionRetries      int      `toml:"compression_retries"`
	CompressionRetryBackoff int      `toml:"compression_retry_backoff"`
	DefaultPreset           string   `toml:"default_preset"`
	TargetWidth             int      `toml:"target_width"`
	TargetHeight            int      `toml:"target_height"`
	TargetFPS               int      `toml:"target_fps"`
	Compressors             []string `toml:"compressors"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval int `toml:"queue_poll_interval"`
	SweepInterval     int `toml:"sweep_interval"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
	HeartbeatTimeout  int `toml:"heartbeat_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format"`
	Level          string            `toml:"level"`
	RetentionDays  int               `toml:"retention_days"`
	StageOverrides map[string]string `toml:"stage_overrides"`
}

// Coordination configures the optional shared lock used when several daemons
// process merges against the same data directory.
type Coordination struct {
	RedisURL       string `toml:"redis_url"`
	LockTTLSeconds int    `toml:"lock_ttl_seconds"`
}

// Moderation configures the post-merge content scan collaborator.
type Moderation struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Config encapsulates all configuration values for clipstitch.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Upload: chunked upload limits, TTL, and quota
//   - Merge: worker pool, presets, target profile, and compressor ranking
//   - Workflow: daemon polling intervals and heartbeats
//   - Logging: log format, level, and retention
//   - Coordination: optional Redis merge lock
//   - Moderation: post-merge scan endpoint
type Config struct {
	Paths        Paths        `toml:"paths"`
	Upload       Upload       `toml:"upload"`
	Merge        Merge        `toml:"merge"`
	Workflow     Workflow     `toml:"workflow"`
	Logging      Logging      `toml:"logging"`
	Coordination Coordination `toml:"coordination"`
	Moderation   Moderation   `toml:"moderation"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/clipstitch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("clipstitch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.LogDir,
		c.SessionsDir(),
		c.ClipsDir(),
		c.AssetsDir(),
		c.WorkDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SessionsDir holds one directory per in-flight upload session.
func (c *Config) SessionsDir() string { return filepath.Join(c.Paths.DataDir, "sessions") }

// ClipsDir holds one directory per assembled clip.
func (c *Config) ClipsDir() string { return filepath.Join(c.Paths.DataDir, "clips") }

// AssetsDir holds one directory per merged asset.
func (c *Config) AssetsDir() string { return filepath.Join(c.Paths.DataDir, "assets") }

// WorkDir holds scratch directories for running merge jobs.
func (c *Config) WorkDir() string { return filepath.Join(c.Paths.DataDir, "work") }

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string { return filepath.Join(c.Paths.DataDir, "clipstitch.db") }

// LockPath returns the daemon's data-dir lock file.
func (c *Config) LockPath() string { return filepath.Join(c.Paths.DataDir, "clipstitch.lock") }

// SessionTTL returns the upload session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Upload.SessionTTLHours) * time.Hour
}

// SessionRetention returns how long terminal session rows are kept.
func (c *Config) SessionRetention() time.Duration {
	return time.Duration(c.Upload.RetentionHours) * time.Hour
}

// MergeTimeout returns the wall-clock budget for one merge run.
func (c *Config) MergeTimeout() time.Duration {
	return time.Duration(c.Merge.TimeoutSeconds) * time.Second
}

// FFmpegBinary returns the ffmpeg executable name used for merging.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
