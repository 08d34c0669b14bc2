package configdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nimburion/configdata/pkg/observability/logger"
	"github.com/nimburion/configdata/pkg/observability/tracing"
)

// ErrNotRefreshable is returned when refreshing an Environment that was not
// produced by a Resolver.
var ErrNotRefreshable = errors.New("configdata: environment was not resolved and cannot be refreshed")

// Precedence selects where imported sources sit relative to local layers.
type Precedence string

const (
	// PrecedenceAboveLocal orders overrides > imports > local > defaults.
	PrecedenceAboveLocal Precedence = "above-local"
	// PrecedenceAboveOverrides orders imports > overrides > local > defaults.
	PrecedenceAboveOverrides Precedence = "above-overrides"
	// PrecedenceBelowLocal orders overrides > local > imports > defaults.
	PrecedenceBelowLocal Precedence = "below-local"
)

// ParsePrecedence converts a configuration literal to a Precedence.
func ParsePrecedence(value string) (Precedence, error) {
	switch Precedence(strings.ToLower(strings.TrimSpace(value))) {
	case "", PrecedenceAboveLocal:
		return PrecedenceAboveLocal, nil
	case PrecedenceAboveOverrides:
		return PrecedenceAboveOverrides, nil
	case PrecedenceBelowLocal:
		return PrecedenceBelowLocal, nil
	}
	return "", fmt.Errorf("invalid remote precedence %q (expected %s, %s or %s)",
		value, PrecedenceAboveLocal, PrecedenceAboveOverrides, PrecedenceBelowLocal)
}

// ImportOrder decides which of several imports wins when they share a key.
type ImportOrder string

const (
	// FirstDeclaredWins gives the first declared import the highest precedence.
	FirstDeclaredWins ImportOrder = "first-wins"
	// LastDeclaredWins gives the last declared import the highest precedence.
	LastDeclaredWins ImportOrder = "last-wins"
)

// ParseImportOrder converts a configuration literal to an ImportOrder.
func ParseImportOrder(value string) (ImportOrder, error) {
	switch ImportOrder(strings.ToLower(strings.TrimSpace(value))) {
	case "", FirstDeclaredWins:
		return FirstDeclaredWins, nil
	case LastDeclaredWins:
		return LastDeclaredWins, nil
	}
	return "", fmt.Errorf("invalid import order %q (expected %s or %s)", value, FirstDeclaredWins, LastDeclaredWins)
}

// Layers are the local property sources, each group ordered highest precedence first.
type Layers struct {
	Overrides []*PropertySource
	Local     []*PropertySource
	Defaults  []*PropertySource
}

// Resolver parses import directives, fetches them and publishes Environments.
type Resolver struct {
	fetcher    *Fetcher
	precedence Precedence
	order      ImportOrder
	timeout    time.Duration
	limiter    *rate.Limiter
	log        logger.Logger
	observer   Observer
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPrecedence places imported sources at the given slot.
func WithPrecedence(precedence Precedence) ResolverOption {
	return func(r *Resolver) { r.precedence = precedence }
}

// WithImportOrder selects which import wins on shared keys.
func WithImportOrder(order ImportOrder) ResolverOption {
	return func(r *Resolver) { r.order = order }
}

// WithResolveTimeout bounds a whole resolution pass. Fetches cut short by the
// deadline fail as backend unavailable.
func WithResolveTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = timeout }
}

// WithRefreshLimit allows at most one refresh every interval, with the given burst.
func WithRefreshLimit(interval time.Duration, burst int) ResolverOption {
	return func(r *Resolver) {
		if interval <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Every(interval), burst)
	}
}

// WithLogger sets the resolver logger.
func WithLogger(log logger.Logger) ResolverOption {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// WithObserver reports resolution outcomes to observer.
func WithObserver(observer Observer) ResolverOption {
	return func(r *Resolver) {
		if observer != nil {
			r.observer = observer
		}
	}
}

// NewResolver creates a Resolver fetching through fetcher. A nil fetcher
// supports no schemes, so only local layers can be resolved.
func NewResolver(fetcher *Fetcher, opts ...ResolverOption) *Resolver {
	if fetcher == nil {
		fetcher = NewFetcher()
	}
	r := &Resolver{
		fetcher:    fetcher,
		precedence: PrecedenceAboveLocal,
		order:      FirstDeclaredWins,
		log:        logger.NewNop(),
		observer:   NopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve parses imports, fetches them and publishes a new Environment over
// the fetched sources and layers. Resolution is all-or-nothing: on any fatal
// failure no Environment is returned.
func (r *Resolver) Resolve(ctx context.Context, imports []string, layers Layers) (*Environment, error) {
	start := time.Now()
	stack, err := r.build(ctx, "resolve", imports, layers)
	if err != nil {
		r.observer.ResolutionCompleted("resolve", "failure", 0, time.Since(start))
		r.log.Error("configuration resolution failed", "imports", imports, "error", err)
		return nil, err
	}

	env := &Environment{origin: resolution{
		resolved: true,
		imports:  append([]string(nil), imports...),
		layers:   layers,
	}}
	env.stack.Store(stack)

	properties := len(stack.Keys())
	r.observer.ResolutionCompleted("resolve", "success", properties, time.Since(start))
	r.log.Info("configuration resolved",
		"generation", stack.ID(),
		"sources", len(stack.sources),
		"properties", properties,
		"duration", time.Since(start),
	)
	return env, nil
}

// Refresh re-resolves env from its original imports and layers and swaps the
// new stack in. On failure the current stack stays published. Concurrent
// refreshes of one Environment run one after another, so generations are
// published in the order their fetches started.
func (r *Resolver) Refresh(ctx context.Context, env *Environment) error {
	if env == nil || !env.origin.resolved {
		return ErrNotRefreshable
	}
	if r.limiter != nil && !r.limiter.Allow() {
		r.observer.ResolutionCompleted("refresh", "throttled", 0, 0)
		return ErrRefreshThrottled
	}

	env.refreshMu.Lock()
	defer env.refreshMu.Unlock()

	start := time.Now()
	stack, err := r.build(ctx, "refresh", env.origin.imports, env.origin.layers)
	if err != nil {
		r.observer.ResolutionCompleted("refresh", "failure", 0, time.Since(start))
		r.log.Error("configuration refresh failed, keeping current properties",
			"generation", env.Generation(),
			"error", err,
		)
		return err
	}

	previous := env.swap(stack)
	properties := len(stack.Keys())
	r.observer.ResolutionCompleted("refresh", "success", properties, time.Since(start))
	r.log.Info("configuration refreshed",
		"previous_generation", previous.ID(),
		"generation", stack.ID(),
		"properties", properties,
	)
	return nil
}

func (r *Resolver) build(ctx context.Context, kind string, imports []string, layers Layers) (*Stack, error) {
	locators, err := ParseLocators(imports)
	if err != nil {
		return nil, err
	}
	for _, loc := range locators {
		if !loc.Optional && !r.fetcher.Supports(loc.Scheme) {
			return nil, locatorError(ErrUnsupportedScheme, loc, fmt.Errorf("registered schemes: %v", r.fetcher.Schemes()))
		}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	ctx, span := tracing.StartResolveSpan(ctx, kind, len(locators))
	defer span.End()

	remote, err := r.fetcher.FetchAll(ctx, locators)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return r.assemble(remote, layers), nil
}

func (r *Resolver) assemble(remote []*PropertySource, layers Layers) *Stack {
	if r.order == LastDeclaredWins {
		reversed := make([]*PropertySource, len(remote))
		for index, source := range remote {
			reversed[len(remote)-1-index] = source
		}
		remote = reversed
	}

	switch r.precedence {
	case PrecedenceAboveOverrides:
		return BuildStack(remote, layers.Overrides, layers.Local, layers.Defaults)
	case PrecedenceBelowLocal:
		return BuildStack(layers.Overrides, layers.Local, remote, layers.Defaults)
	default:
		return BuildStack(layers.Overrides, remote, layers.Local, layers.Defaults)
	}
}
