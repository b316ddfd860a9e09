package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateMerge(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateCoordination(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxTotalBytes <= 0 {
		return errors.New("upload.max_total_bytes must be positive")
	}
	if c.Upload.MaxChunkBytes <= 0 {
		return errors.New("upload.max_chunk_bytes must be positive")
	}
	if c.Upload.MaxChunkBytes > c.Upload.MaxTotalBytes {
		return errors.New("upload.max_chunk_bytes must not exceed upload.max_total_bytes")
	}
	if err := ensurePositiveMap(map[string]int{
		"upload.session_ttl_hours":   c.Upload.SessionTTLHours,
		"upload.retention_hours":     c.Upload.RetentionHours,
		"upload.max_active_sessions": c.Upload.MaxActiveSessions,
	}); err != nil {
		return err
	}
	switch c.Upload.HashAlgorithm {
	case "sha256", "blake3":
	default:
		return fmt.Errorf("upload.hash_algorithm %q is not supported (use sha256 or blake3)", c.Upload.HashAlgorithm)
	}
	for _, mime := range c.Upload.AllowedMimeTypes {
		if !strings.Contains(mime, "/") {
			return fmt.Errorf("upload.allowed_mime_types: %q is not a mime type", mime)
		}
	}
	return nil
}

func (c *Config) validateMerge() error {
	if err := ensurePositiveMap(map[string]int{
		"merge.workers":         c.Merge.Workers,
		"merge.timeout_seconds": c.Merge.TimeoutSeconds,
		"merge.target_width":    c.Merge.TargetWidth,
		"merge.target_height":   c.Merge.TargetHeight,
		"merge.target_fps":      c.Merge.TargetFPS,
	}); err != nil {
		return err
	}
	if c.Merge.TargetWidth%2 != 0 || c.Merge.TargetHeight%2 != 0 {
		return errors.New("merge.target_width and merge.target_height must be even")
	}
	switch c.Merge.DefaultPreset {
	case "high", "medium", "low":
	default:
		return fmt.Errorf("merge.default_preset %q is not one of high, medium, low", c.Merge.DefaultPreset)
	}
	for _, name := range c.Merge.Compressors {
		switch name {
		case "ffmpeg", "drapto":
		default:
			return fmt.Errorf("merge.compressors: unknown compressor %q", name)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval": c.Workflow.QueuePollInterval,
		"workflow.sweep_interval":      c.Workflow.SweepInterval,
		"workflow.heartbeat_interval":  c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":   c.Workflow.HeartbeatTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateCoordination() error {
	url := c.Coordination.RedisURL
	if url == "" {
		return nil
	}
	if !strings.HasPrefix(url, "redis://") && !strings.HasPrefix(url, "rediss://") {
		return errors.New("coordination.redis_url must start with redis:// or rediss://")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
