package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeUpload()
	c.normalizeMerge()
	c.normalizeCoordination()
	c.normalizeModeration()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("CLIPSTITCH_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeUpload() {
	c.Upload.AllowedMimeTypes = normalizeList(c.Upload.AllowedMimeTypes)
	if len(c.Upload.AllowedMimeTypes) == 0 {
		c.Upload.AllowedMimeTypes = append([]string(nil), defaultAllowedMimeTypes...)
	}
	c.Upload.HashAlgorithm = strings.ToLower(strings.TrimSpace(c.Upload.HashAlgorithm))
	if c.Upload.HashAlgorithm == "" {
		c.Upload.HashAlgorithm = defaultHashAlgorithm
	}
	if c.Upload.MinFreeBytes < 0 {
		c.Upload.MinFreeBytes = 0
	}
}

func (c *Config) normalizeMerge() {
	c.Merge.DefaultPreset = strings.ToLower(strings.TrimSpace(c.Merge.DefaultPreset))
	if c.Merge.DefaultPreset == "" {
		c.Merge.DefaultPreset = defaultPreset
	}
	c.Merge.Compressors = normalizeList(c.Merge.Compressors)
	if len(c.Merge.Compressors) == 0 {
		c.Merge.Compressors = append([]string(nil), defaultCompressors...)
	}
	if c.Merge.CompressionRetries < 0 {
		c.Merge.CompressionRetries = 0
	}
	if c.Merge.CompressionRetryBackoff < 0 {
		c.Merge.CompressionRetryBackoff = 0
	}
}

func (c *Config) normalizeCoordination() {
	c.Coordination.RedisURL = strings.TrimSpace(c.Coordination.RedisURL)
	if c.Coordination.RedisURL == "" {
		if value, ok := os.LookupEnv("CLIPSTITCH_REDIS_URL"); ok {
			c.Coordination.RedisURL = strings.TrimSpace(value)
		}
	}
	if c.Coordination.LockTTLSeconds <= 0 {
		c.Coordination.LockTTLSeconds = defaultLockTTLSeconds
	}
}

func (c *Config) normalizeModeration() {
	c.Moderation.URL = strings.TrimSpace(c.Moderation.URL)
	c.Moderation.APIKey = strings.TrimSpace(c.Moderation.APIKey)
	if c.Moderation.APIKey == "" {
		if value, ok := os.LookupEnv("CLIPSTITCH_MODERATION_KEY"); ok {
			c.Moderation.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Moderation.TimeoutSeconds <= 0 {
		c.Moderation.TimeoutSeconds = defaultModerationTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
