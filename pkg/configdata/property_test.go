package configdata

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func propertyParameters() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	return parameters
}

var genSegment = gen.RegexMatch(`^[a-z][a-z0-9-]{0,5}$`)

// Every key resolves to the value of the first source that holds it.
func TestProperty_FirstMatchWins(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("lookup returns the value of the lowest-index source holding the key", prop.ForAll(
		func(layers []map[string]string) bool {
			sources := make([]*PropertySource, len(layers))
			for i, layer := range layers {
				entries := make(map[string]any, len(layer))
				for key, value := range layer {
					entries[key] = value
				}
				sources[i] = MustPropertySource(fmt.Sprintf("layer-%d", i), entries)
			}
			env := NewEnvironment(BuildStack(sources))

			for _, key := range env.Keys() {
				want, wantOrigin := "", ""
				for i, layer := range layers {
					if value, ok := layer[key]; ok {
						want, wantOrigin = value, fmt.Sprintf("layer-%d", i)
						break
					}
				}
				got, ok := env.GetProperty(key)
				origin, _ := env.PropertyOrigin(key)
				if !ok || got != want || origin != wantOrigin {
					t.Logf("key %q: got %v from %s, want %v from %s", key, got, origin, want, wantOrigin)
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.MapOf(genSegment, gen.AlphaString())),
	))

	properties.TestingRun(t)
}

// Flattening {a:{b:v}} makes "a.b" resolve to v and never exposes "a" itself.
func TestProperty_FlattenRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("nested value is reachable by its dotted path only", prop.ForAll(
		func(a, b, c, value string) bool {
			payload := map[string]any{a: map[string]any{b: map[string]any{c: value}}}
			flat, err := Flatten(payload)
			if err != nil {
				return false
			}
			key := a + "." + b + "." + c
			if len(flat) != 1 || flat[key] != value {
				return false
			}
			_, hasA := flat[a]
			_, hasAB := flat[a+"."+b]
			return !hasA && !hasAB
		},
		genSegment, genSegment, genSegment, gen.AnyString(),
	))

	properties.Property("flattening is deterministic", prop.ForAll(
		func(entries map[string]string, nested []string) bool {
			m := make(map[string]any, len(entries))
			for key, value := range entries {
				m[key] = value
			}
			payload := map[string]any{"list": toAnySlice(nested), "m": m}
			first, err1 := Flatten(payload)
			second, err2 := Flatten(payload)
			return err1 == nil && err2 == nil && fmt.Sprint(first) == fmt.Sprint(second)
		},
		gen.MapOf(genSegment, gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// One failing locator among several publishes nothing, wherever it sits.
func TestProperty_ResolutionIsAllOrNothing(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("a failing non-optional locator aborts the whole resolution", prop.ForAll(
		func(count, failing, parallelism int) bool {
			failing %= count
			backend := newMapBackend(map[string]map[string]any{})
			imports := make([]string, count)
			for i := range imports {
				path := fmt.Sprintf("p%d", i)
				imports[i] = "mem:" + path
				backend.set(path, map[string]any{path: "value"})
			}
			backend.fail(fmt.Sprintf("p%d", failing), errors.New("unavailable"))

			resolver := NewResolver(NewFetcher(WithBackend("mem", backend), WithParallelism(parallelism)))
			env, err := resolver.Resolve(context.Background(), imports, Layers{})
			return env == nil && errors.Is(err, ErrBackendUnavailable)
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 5),
		gen.IntRange(1, 4),
	))

	properties.Property("a missing optional locator contributes nothing and fails nothing", prop.ForAll(
		func(count, missing int) bool {
			missing %= count
			backend := newMapBackend(map[string]map[string]any{})
			imports := make([]string, count)
			for i := range imports {
				path := fmt.Sprintf("p%d", i)
				imports[i] = "optional:mem:" + path
				if i != missing {
					backend.set(path, map[string]any{path: "value"})
				}
			}

			env, err := NewResolver(NewFetcher(WithBackend("mem", backend))).Resolve(context.Background(), imports, Layers{})
			if err != nil {
				return false
			}
			return len(env.PropertySources()) == count-1 && !env.ContainsProperty(fmt.Sprintf("p%d", missing))
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, value := range values {
		out[i] = value
	}
	return out
}
