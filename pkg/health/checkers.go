package health

import (
	"context"
	"fmt"
	"time"

	"github.com/nimburion/configdata/pkg/configdata"
)

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// BackendChecker reports a configuration backend unhealthy when Ping fails or
// does not return within the timeout. It backs the vault, redis, s3, sql,
// dynamodb, mongodb, memcached and bus checks.
type BackendChecker struct {
	name    string
	backend Pinger
	timeout time.Duration
}

// NewBackendChecker creates a checker for backend. A zero timeout means 5s.
func NewBackendChecker(name string, backend Pinger, timeout time.Duration) *BackendChecker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &BackendChecker{
		name:    name,
		backend: backend,
		timeout: timeout,
	}
}

// Check pings the backend under the checker's timeout. The ping error, if
// any, is reported in Error.
func (c *BackendChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.backend.Ping(checkCtx)
	result := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = ""
		result.Error = err.Error()
	}
	return result
}

// Name returns the name of the health check
func (c *BackendChecker) Name() string {
	return c.name
}

// EnvironmentChecker reports whether an environment has been published and how
// old its stack is.
type EnvironmentChecker struct {
	name    string
	current func() *configdata.Environment
	maxAge  time.Duration
	now     func() time.Time
}

// NewEnvironmentChecker creates a checker reading the environment from current.
// When maxAge is positive a stack older than maxAge is reported degraded.
func NewEnvironmentChecker(name string, current func() *configdata.Environment, maxAge time.Duration) *EnvironmentChecker {
	return &EnvironmentChecker{
		name:    name,
		current: current,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Check inspects the current stack. It is unhealthy before the first
// successful resolve and degraded when the stack is older than maxAge; the
// stack generation, source count and build time are reported as metadata.
func (c *EnvironmentChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:      c.name,
		Timestamp: c.now(),
	}

	env := c.current()
	if env == nil {
		result.Status = StatusUnhealthy
		result.Error = "environment not resolved"
		return result
	}

	stack := env.Snapshot()
	age := c.now().Sub(stack.BuiltAt())
	result.Metadata = map[string]any{
		"generation": stack.ID(),
		"sources":    len(stack.Sources()),
		"built_at":   stack.BuiltAt(),
	}
	if c.maxAge > 0 && age > c.maxAge {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("stack is %s old, expected at most %s", age.Truncate(time.Second), c.maxAge)
		return result
	}
	result.Status = StatusHealthy
	result.Message = "OK"
	return result
}

// Name returns the name of the health check
func (c *EnvironmentChecker) Name() string {
	return c.name
}

// LivenessChecker always reports healthy. It tells an orchestrator the
// process is serving requests at all.
type LivenessChecker struct {
	name string
}

// NewLivenessChecker creates a liveness check with the given name.
func NewLivenessChecker(name string) *LivenessChecker {
	return &LivenessChecker{name: name}
}

// Check always returns healthy status
func (c *LivenessChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "alive",
		Timestamp: time.Now(),
	}
}

// Name returns the name of the health check
func (c *LivenessChecker) Name() string {
	return c.name
}
