package configdata

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Stack is the precedence-ordered list of property sources backing an
// Environment, highest precedence first. A Stack is never modified after
// BuildStack returns; refresh builds a new one.
type Stack struct {
	id      string
	builtAt time.Time
	sources []*PropertySource
}

// BuildStack concatenates precedence-ordered groups into one stack, keeping
// both the group order and the order inside each group. Nil sources are skipped.
func BuildStack(groups ...[]*PropertySource) *Stack {
	size := 0
	for _, group := range groups {
		size += len(group)
	}
	sources := make([]*PropertySource, 0, size)
	for _, group := range groups {
		for _, source := range group {
			if source != nil {
				sources = append(sources, source)
			}
		}
	}
	return &Stack{
		id:      uuid.NewString(),
		builtAt: time.Now(),
		sources: sources,
	}
}

// ID is a unique generation identifier for this stack.
func (s *Stack) ID() string { return s.id }

// BuiltAt reports when the stack was assembled.
func (s *Stack) BuiltAt() time.Time { return s.builtAt }

// Lookup returns the first value for key in stack order and the name of the
// source that provided it.
func (s *Stack) Lookup(key string) (any, string, bool) {
	for _, source := range s.sources {
		if value, ok := source.Get(key); ok {
			return value, source.Name(), true
		}
	}
	return nil, "", false
}

// Contains reports whether any source holds key.
func (s *Stack) Contains(key string) bool {
	for _, source := range s.sources {
		if source.Contains(key) {
			return true
		}
	}
	return false
}

// Sources returns the sources in precedence order.
func (s *Stack) Sources() []*PropertySource {
	out := make([]*PropertySource, len(s.sources))
	copy(out, s.sources)
	return out
}

// Keys returns the sorted union of keys across all sources.
func (s *Stack) Keys() []string {
	seen := make(map[string]struct{})
	for _, source := range s.sources {
		for _, key := range source.keys {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
