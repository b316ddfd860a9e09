package deps

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"clipstitch/internal/config"
)

// Requirement defines an external binary the media pipeline shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// MediaRequirements lists the binaries the merge pipeline shells out to.
// The Drapto strategy drives the same ffmpeg from PATH.
func MediaRequirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: cfg.FFmpegBinary(), Description: "Normalizes, concatenates, and compresses clips"},
		{Name: "FFprobe", Command: cfg.FFprobeBinary(), Description: "Probes durations, codecs, and chapters"},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if resolved, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Command = resolved
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// Missing joins the failures of required dependencies, or returns nil.
func Missing(statuses []Status) error {
	var errs []error
	for _, s := range statuses {
		if s.Available || s.Optional {
			continue
		}
		errs = append(errs, fmt.Errorf("%s: %s", s.Name, s.Detail))
	}
	return errors.Join(errs...)
}
