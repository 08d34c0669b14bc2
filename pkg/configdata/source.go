package configdata

import "fmt"

// PropertySource is one flat, named layer of properties. It is immutable once
// constructed: keys are fully flattened and sorted.
type PropertySource struct {
	name     string
	keys     []string
	values   map[string]any
	imported bool
}

// NewPropertySource flattens entries and wraps them under name.
func NewPropertySource(name string, entries map[string]any) (*PropertySource, error) {
	flat, err := Flatten(entries)
	if err != nil {
		return nil, fmt.Errorf("property source %s: %w", name, err)
	}
	return &PropertySource{
		name:   name,
		keys:   sortedKeys(flat),
		values: flat,
	}, nil
}

// NewImportedPropertySource is NewPropertySource for a payload fetched from a
// remote backend. Imported sources report Imported() == true.
func NewImportedPropertySource(name string, entries map[string]any) (*PropertySource, error) {
	source, err := NewPropertySource(name, entries)
	if err != nil {
		return nil, err
	}
	source.imported = true
	return source, nil
}

// MustPropertySource is NewPropertySource for statically known entries. It panics on conflict.
func MustPropertySource(name string, entries map[string]any) *PropertySource {
	source, err := NewPropertySource(name, entries)
	if err != nil {
		panic(err)
	}
	return source
}

// Name identifies the origin of the source, e.g. "vault:secret/app".
func (s *PropertySource) Name() string { return s.name }

// Imported reports whether the source was fetched from an import directive
// rather than built from a local layer.
func (s *PropertySource) Imported() bool { return s.imported }

// Get returns the value stored for key.
func (s *PropertySource) Get(key string) (any, bool) {
	value, ok := s.values[key]
	return value, ok
}

// Contains reports whether key is present.
func (s *PropertySource) Contains(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Keys returns a copy of the sorted keys.
func (s *PropertySource) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Len returns the number of entries.
func (s *PropertySource) Len() int { return len(s.keys) }

func (s *PropertySource) String() string {
	return fmt.Sprintf("%s (%d properties)", s.name, len(s.keys))
}
