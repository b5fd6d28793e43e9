package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates the primary database is down; nothing can be served.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// DefaultTimeout bounds a single check so a hung backend cannot stall /health.
const DefaultTimeout = 2 * time.Second

type namedCheck struct {
	name string
	ping func(context.Context) error
}

// Service coordinates health checks.
type Service struct {
	checks  []namedCheck
	timeout time.Duration
}

// New creates a Service. embedding can be nil.
func New(db Pinger, embedding EmbeddingChecker) *Service {
	s := &Service{timeout: DefaultTimeout}
	s.checks = append(s.checks, namedCheck{name: primaryCheck, ping: db.Ping})
	if embedding != nil {
		s.checks = append(s.checks, namedCheck{name: "embedding", ping: embedding.HealthCheck})
	}
	return s
}

const primaryCheck = "database"

// WithCheck adds an optional dependency (product index, shared cache).
// Its failure degrades the report.
func (s *Service) WithCheck(name string, p Pinger) *Service {
	s.checks = append(s.checks, namedCheck{name: name, ping: p.Ping})
	return s
}

// WithTimeout overrides the per-check deadline. Non-positive values are ignored.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check pings all components concurrently.
func (s *Service) Check(ctx context.Context) Report {
	results := make([]CheckResult, len(s.checks))

	var g errgroup.Group
	for i, c := range s.checks {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			results[i] = result(c.ping(pctx))
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]CheckResult, len(s.checks))
	status := Healthy
	for i, c := range s.checks {
		checks[c.name] = results[i]
		if results[i] == CheckError && status == Healthy {
			status = Degraded
		}
	}
	if checks[primaryCheck] == CheckError {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}
