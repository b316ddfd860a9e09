package testsupport

import (
	"path/filepath"
	"testing"

	"clipstitch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	cfg *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Upload.MinFreeBytes = 0
	cfgVal.Merge.CompressionRetryBackoff = 0

	builder := &configBuilder{cfg: &cfgVal}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithAPIToken sets the bearer token required by the API server.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithUploadLimits overrides the per-session size limits.
func WithUploadLimits(maxTotal, maxChunk int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.MaxTotalBytes = maxTotal
		b.cfg.Upload.MaxChunkBytes = maxChunk
	}
}

// WithMaxActiveSessions overrides the per-owner concurrent session quota.
func WithMaxActiveSessions(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.MaxActiveSessions = n
	}
}
