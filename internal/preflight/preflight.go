package preflight

import (
	"context"

	"clipstitch/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Directories names the data-tree directories the daemon writes to.
func Directories(cfg *config.Config) map[string]string {
	return map[string]string{
		"Data directory":     cfg.Paths.DataDir,
		"Sessions directory": cfg.SessionsDir(),
		"Clips directory":    cfg.ClipsDir(),
		"Assets directory":   cfg.AssetsDir(),
		"Work directory":     cfg.WorkDir(),
	}
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	for _, name := range []string{"Data directory", "Sessions directory", "Clips directory", "Assets directory", "Work directory"} {
		results = append(results, CheckDirectoryAccess(name, Directories(cfg)[name]))
	}

	if cfg.Moderation.URL != "" {
		results = append(results, CheckEndpoint(ctx, "Moderation service", cfg.Moderation.URL))
	}
	return results
}
