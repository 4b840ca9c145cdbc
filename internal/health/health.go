// Package health runs dependency checks for the liveness and readiness
// endpoints.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout bounds a single check when the registry has none set.
const DefaultTimeout = 2 * time.Second

// Checker probes one dependency. A nil error means healthy.
type Checker func(ctx context.Context) error

// Status is the result of one check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Report aggregates every check from one run.
type Report struct {
	Healthy bool     `json:"healthy"`
	Checks  []Status `json:"checks"`
}

// Registry holds named dependency checks. Checks run concurrently and each
// is bounded by the registry timeout.
type Registry struct {
	mu      sync.RWMutex
	checks  map[string]Checker
	timeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{checks: make(map[string]Checker), timeout: timeout}
}

// Register adds or replaces the check called name.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checks[name] = check
	r.mu.Unlock()
}

// Run executes every check and reports them sorted by name.
func (r *Registry) Run(ctx context.Context) Report {
	r.mu.RLock()
	names := make([]string, 0, len(r.checks))
	checks := make([]Checker, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		checks = append(checks, r.checks[name])
	}
	r.mu.RUnlock()

	statuses := make([]Status, len(checks))
	var wg sync.WaitGroup
	for i := range checks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i] = r.run(ctx, names[i], checks[i])
		}(i)
	}
	wg.Wait()

	report := Report{Healthy: true, Checks: statuses}
	for _, st := range statuses {
		if !st.Healthy {
			report.Healthy = false
		}
	}
	return report
}

func (r *Registry) run(ctx context.Context, name string, check Checker) (st Status) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	st = Status{Name: name}
	defer func() {
		if p := recover(); p != nil {
			st.Healthy = false
			st.Detail = "check panicked"
		}
	}()

	if err := check(ctx); err != nil {
		st.Detail = err.Error()
		return st
	}
	st.Healthy = true
	return st
}
