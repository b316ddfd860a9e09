package workflow

import (
	"context"
	"sort"

	"clipstitch/internal/logging"
	"clipstitch/internal/store"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running   bool
	Workers   int
	LastError string
	Active    []store.MergeJob
	JobCounts map[store.JobStatus]int
	Health    []ComponentHealth
}

// Status returns the latest workflow information.
func (r *Runner) Status(ctx context.Context) StatusSummary {
	r.mu.RLock()
	summary := StatusSummary{Running: r.running, Workers: r.workers}
	if r.lastErr != nil {
		summary.LastError = r.lastErr.Error()
	}
	for _, job := range r.active {
		summary.Active = append(summary.Active, *job)
	}
	r.mu.RUnlock()
	sort.Slice(summary.Active, func(i, j int) bool { return summary.Active[i].ID < summary.Active[j].ID })

	jobs, err := r.store.ListJobs(ctx)
	if err != nil {
		r.logger.Warn("failed to read job stats", logging.Error(err))
	} else {
		summary.JobCounts = make(map[store.JobStatus]int)
		for _, job := range jobs {
			summary.JobCounts[job.Status]++
		}
	}
	summary.Health = runHealthChecks(r.checks)
	return summary
}
