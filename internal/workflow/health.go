package workflow

import "sort"

// HealthCheck reports why a runner dependency cannot serve, or nil.
type HealthCheck func() error

// ComponentHealth summarizes the readiness of one runner dependency.
type ComponentHealth struct {
	Name   string
	Ready  bool
	Detail string
}

func runHealthChecks(checks map[string]HealthCheck) []ComponentHealth {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]ComponentHealth, 0, len(names))
	for _, name := range names {
		if err := checks[name](); err != nil {
			out = append(out, ComponentHealth{Name: name, Detail: err.Error()})
			continue
		}
		out = append(out, ComponentHealth{Name: name, Ready: true})
	}
	return out
}
