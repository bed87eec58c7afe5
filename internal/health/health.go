package health

import (
	"context"
	"sync"
	"time"
)

// Check verifies one dependency
type Check func(ctx context.Context) error

// Status is the outcome of one dependency check
type Status struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ms"`
}

// Checker aggregates dependency checks for the status endpoint
type Checker struct {
	mu     sync.Mutex
	checks map[string]Check
	order  []string
}

// NewChecker creates an empty checker
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]Check)}
}

// Register adds a named dependency check
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.checks[name]; !ok {
		c.order = append(c.order, name)
	}
	c.checks[name] = check
}

// Run executes every check with a per-check timeout. The second
// return is false when any dependency is down.
func (c *Checker) Run(ctx context.Context) ([]Status, bool) {
	c.mu.Lock()
	names := append([]string(nil), c.order...)
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.Unlock()

	statuses := make([]Status, 0, len(names))
	allHealthy := true

	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		start := time.Now()
		err := checks[name](checkCtx)
		cancel()

		status := Status{
			Name:    name,
			Healthy: err == nil,
			Latency: time.Since(start) / time.Millisecond,
		}
		if err != nil {
			status.Error = err.Error()
			allHealthy = false
		}
		statuses = append(statuses, status)
	}

	return statuses, allHealthy
}
