package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status of a single check or of the aggregate.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Check is one named probe.
type Check interface {
	Name() string
	Execute(ctx context.Context) (Status, error)
}

// Result of one check.
type Result struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// AggregateResult is DOWN as soon as one check is DOWN.
type AggregateResult struct {
	Status  Status            `json:"status"`
	Details map[string]Result `json:"details"`
}

// Checker runs a set of checks in parallel.
type Checker struct {
	checks  []Check
	timeout time.Duration
	mutex   sync.RWMutex
}

// NewChecker creates a checker; each check gets at most timeout.
func NewChecker(timeout time.Duration) *Checker {
	return &Checker{timeout: timeout}
}

// AddCheck registers a check.
func (c *Checker) AddCheck(check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.checks = append(c.checks, check)
}

// RunChecks executes every check and aggregates the outcome.
func (c *Checker) RunChecks(ctx context.Context) AggregateResult {
	c.mutex.RLock()
	checks := append([]Check(nil), c.checks...)
	c.mutex.RUnlock()

	results := make([]Result, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			checkCtx := gctx
			if c.timeout > 0 {
				var cancel context.CancelFunc
				checkCtx, cancel = context.WithTimeout(gctx, c.timeout)
				defer cancel()
			}
			status, err := check.Execute(checkCtx)
			results[i] = Result{Name: check.Name(), Status: status}
			if err != nil {
				results[i].Status = StatusDown
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	agg := AggregateResult{Status: StatusUp, Details: make(map[string]Result, len(results))}
	for _, r := range results {
		agg.Details[r.Name] = r
		if r.Status != StatusUp {
			agg.Status = StatusDown
		}
	}
	return agg
}

// HTTPCheck expects a 2xx from url.
type HTTPCheck struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPCheck creates an HTTP probe.
func NewHTTPCheck(name, url string, timeout time.Duration) *HTTPCheck {
	return &HTTPCheck{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPCheck) Name() string { return h.name }

// Execute performs a GET against the configured url.
func (h *HTTPCheck) Execute(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return StatusDown, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return StatusDown, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StatusDown, fmt.Errorf("unexpected status code: %s", resp.Status)
	}
	return StatusUp, nil
}

// FuncCheck adapts a plain error-returning probe.
type FuncCheck struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncCheck wraps fn; a nil error means UP.
func NewFuncCheck(name string, fn func(ctx context.Context) error) *FuncCheck {
	return &FuncCheck{name: name, fn: fn}
}

func (f *FuncCheck) Name() string { return f.name }

func (f *FuncCheck) Execute(ctx context.Context) (Status, error) {
	if err := f.fn(ctx); err != nil {
		return StatusDown, err
	}
	return StatusUp, nil
}
