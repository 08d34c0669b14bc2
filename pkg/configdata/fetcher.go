package configdata

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nimburion/configdata/pkg/observability/logger"
	"github.com/nimburion/configdata/pkg/observability/tracing"
	"github.com/nimburion/configdata/pkg/resilience"
)

// Backend is a secret or configuration store addressed by locator paths.
// Fetch returns the raw, possibly nested payload stored at path, an error
// wrapping ErrNotFound when the path does not exist, or any other error for
// transport and authentication failures. Retries are the backend's concern.
type Backend interface {
	Fetch(ctx context.Context, path string) (map[string]any, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, path string) (map[string]any, error)

// Fetch implements Backend.
func (f BackendFunc) Fetch(ctx context.Context, path string) (map[string]any, error) {
	return f(ctx, path)
}

// Fetch outcomes reported to the Observer.
const (
	OutcomeLoaded      = "loaded"
	OutcomeSkipped     = "skipped"
	OutcomeMissing     = "missing"
	OutcomeUnavailable = "unavailable"
	OutcomeConflict    = "conflict"
	OutcomeUnsupported = "unsupported"
)

// Fetcher turns locators into property sources, one logical backend call per locator.
type Fetcher struct {
	backends    map[string]Backend
	breakers    map[string]*resilience.CircuitBreaker
	timeout     time.Duration
	parallelism int
	log         logger.Logger
	observer    Observer
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithBackend registers backend for locators using scheme.
func WithBackend(scheme string, backend Backend) FetcherOption {
	return func(f *Fetcher) {
		f.backends[normalizeScheme(scheme)] = backend
	}
}

// WithFetchTimeout bounds every single backend call.
func WithFetchTimeout(timeout time.Duration) FetcherOption {
	return func(f *Fetcher) { f.timeout = timeout }
}

// WithParallelism lets up to n locators be fetched concurrently. Results keep locator order.
func WithParallelism(n int) FetcherOption {
	return func(f *Fetcher) { f.parallelism = n }
}

// WithCircuitBreaker guards every registered scheme with its own breaker. While
// a breaker is open, fetches for that scheme fail as backend unavailable.
func WithCircuitBreaker(maxFailures int, cooldown time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.breakers = make(map[string]*resilience.CircuitBreaker)
		f.breakers[""] = resilience.NewCircuitBreaker(maxFailures, cooldown)
	}
}

// WithFetchLogger sets the logger used for skipped optional locators.
func WithFetchLogger(log logger.Logger) FetcherOption {
	return func(f *Fetcher) {
		if log != nil {
			f.log = log
		}
	}
}

// WithFetchObserver reports every fetch outcome to observer.
func WithFetchObserver(observer Observer) FetcherOption {
	return func(f *Fetcher) {
		if observer != nil {
			f.observer = observer
		}
	}
}

// NewFetcher creates a Fetcher. Without WithParallelism fetches run sequentially.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		backends:    make(map[string]Backend),
		parallelism: 1,
		log:         logger.NewNop(),
		observer:    NopObserver{},
	}
	for _, opt := range opts {
		opt(f)
	}
	if template, ok := f.breakers[""]; ok {
		delete(f.breakers, "")
		for scheme := range f.backends {
			f.breakers[scheme] = template.Clone()
		}
	}
	return f
}

// Schemes lists the registered schemes, sorted.
func (f *Fetcher) Schemes() []string {
	return sortedKeys(f.backends)
}

// Supports reports whether a backend is registered for scheme.
func (f *Fetcher) Supports(scheme string) bool {
	_, ok := f.backends[normalizeScheme(scheme)]
	return ok
}

// Backend returns the backend registered for scheme.
func (f *Fetcher) Backend(scheme string) (Backend, bool) {
	backend, ok := f.backends[normalizeScheme(scheme)]
	return backend, ok
}

// FetchAll fetches every locator and returns the produced sources in locator
// order. Skipped optional locators produce no source. The first fatal failure
// aborts the whole call and no sources are returned.
func (f *Fetcher) FetchAll(ctx context.Context, locators []Locator) ([]*PropertySource, error) {
	results := make([]*PropertySource, len(locators))

	if f.parallelism <= 1 || len(locators) < 2 {
		for index, loc := range locators {
			source, err := f.fetchOne(ctx, loc)
			if err != nil {
				return nil, err
			}
			results[index] = source
		}
		return compact(results), nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.parallelism)
	for index, loc := range locators {
		group.Go(func() error {
			source, err := f.fetchOne(groupCtx, loc)
			if err != nil {
				return err
			}
			results[index] = source
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return compact(results), nil
}

func (f *Fetcher) fetchOne(ctx context.Context, loc Locator) (*PropertySource, error) {
	backend, ok := f.backends[loc.Scheme]
	if !ok {
		if loc.Optional {
			f.log.Warn("skipping optional import with unsupported scheme", "locator", loc.String(), "schemes", f.Schemes())
			f.observer.FetchCompleted(loc.Scheme, OutcomeSkipped, 0)
			return nil, nil
		}
		f.observer.FetchCompleted(loc.Scheme, OutcomeUnsupported, 0)
		return nil, locatorError(ErrUnsupportedScheme, loc, nil)
	}

	ctx, span := tracing.StartFetchSpan(ctx, loc.Scheme, loc.Path, loc.Optional)
	defer span.End()

	start := time.Now()
	payload, err := f.call(ctx, loc.Scheme, backend, loc.Path)
	elapsed := time.Since(start)
	if err != nil {
		tracing.RecordError(span, err)
		kind, outcome := ErrBackendUnavailable, OutcomeUnavailable
		if errors.Is(err, ErrNotFound) {
			kind, outcome = ErrMissingSecret, OutcomeMissing
		}
		if loc.Optional {
			f.log.Warn("skipping optional import", "locator", loc.String(), "reason", outcome, "error", err)
			f.observer.FetchCompleted(loc.Scheme, OutcomeSkipped, elapsed)
			return nil, nil
		}
		f.observer.FetchCompleted(loc.Scheme, outcome, elapsed)
		return nil, locatorError(kind, loc, err)
	}

	source, err := NewImportedPropertySource(loc.String(), payload)
	if err != nil {
		tracing.RecordError(span, err)
		f.observer.FetchCompleted(loc.Scheme, OutcomeConflict, elapsed)
		return nil, locatorError(ErrFlattenConflict, loc, err)
	}
	tracing.SetPropertyCount(span, source.Len())
	f.observer.FetchCompleted(loc.Scheme, OutcomeLoaded, elapsed)
	f.log.Debug("import fetched", "locator", loc.String(), "properties", source.Len(), "duration", elapsed)
	return source, nil
}

// call performs the single logical backend call. A missing path does not
// count as a breaker failure.
func (f *Fetcher) call(ctx context.Context, scheme string, backend Backend, path string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var payload map[string]any
	var notFound error
	attempt := func(callCtx context.Context) error {
		result, err := backend.Fetch(callCtx, path)
		if errors.Is(err, ErrNotFound) {
			notFound = err
			return nil
		}
		if err != nil {
			return err
		}
		payload = result
		return nil
	}
	run := func() error {
		if f.timeout > 0 {
			return resilience.WithTimeout(ctx, f.timeout, attempt)
		}
		return attempt(ctx)
	}

	var err error
	if breaker := f.breakers[scheme]; breaker != nil {
		err = breaker.Execute(run)
	} else {
		err = run()
	}
	if err != nil {
		return nil, err
	}
	if notFound != nil {
		return nil, notFound
	}
	return payload, nil
}

// BreakerStates reports the circuit breaker state per scheme.
func (f *Fetcher) BreakerStates() map[string]string {
	states := make(map[string]string, len(f.breakers))
	for scheme, breaker := range f.breakers {
		states[scheme] = breaker.GetState().String()
	}
	return states
}

func compact(sources []*PropertySource) []*PropertySource {
	out := make([]*PropertySource, 0, len(sources))
	for _, source := range sources {
		if source != nil {
			out = append(out, source)
		}
	}
	return out
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
