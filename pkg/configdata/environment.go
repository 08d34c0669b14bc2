package configdata

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// ListDelimiter separates elements when a scalar is read as a list.
const ListDelimiter = ","

// maxDurationSeconds is the largest whole number of seconds a time.Duration holds.
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

// Environment is the read-only facade used by application code to query
// configuration. It wraps exactly one Stack at a time; a refresh replaces the
// stack with a single atomic swap, so a read sees either the old or the new
// stack in full.
type Environment struct {
	stack  atomic.Pointer[Stack]
	origin resolution

	// refreshMu is held by Refresh across rebuild and swap.
	refreshMu sync.Mutex
}

// resolution records the inputs an Environment was resolved from so a refresh
// can rebuild it.
type resolution struct {
	resolved bool
	imports  []string
	layers   Layers
}

// NewEnvironment publishes stack as a standalone Environment. Environments
// created this way cannot be refreshed by a Resolver.
func NewEnvironment(stack *Stack) *Environment {
	env := &Environment{}
	if stack == nil {
		stack = BuildStack()
	}
	env.stack.Store(stack)
	return env
}

// Snapshot returns the currently published stack. Use it to perform several
// reads against one consistent view.
func (e *Environment) Snapshot() *Stack {
	return e.stack.Load()
}

func (e *Environment) swap(stack *Stack) *Stack {
	return e.stack.Swap(stack)
}

// Generation returns the id of the currently published stack.
func (e *Environment) Generation() string {
	return e.Snapshot().ID()
}

// PropertySources returns the published sources in precedence order.
func (e *Environment) PropertySources() []*PropertySource {
	return e.Snapshot().Sources()
}

// Keys returns every known property key, sorted.
func (e *Environment) Keys() []string {
	return e.Snapshot().Keys()
}

// ContainsProperty reports whether any source in the published stack holds key.
func (e *Environment) ContainsProperty(key string) bool {
	return e.Snapshot().Contains(key)
}

// GetProperty returns the value from the highest-precedence source holding key.
func (e *Environment) GetProperty(key string) (any, bool) {
	value, _, ok := e.Snapshot().Lookup(key)
	return value, ok
}

// PropertyOrigin returns the name of the source that provides key.
func (e *Environment) PropertyOrigin(key string) (string, bool) {
	_, origin, ok := e.Snapshot().Lookup(key)
	return origin, ok
}

// GetString returns key rendered as a string.
func (e *Environment) GetString(key string) (string, bool, error) {
	value, ok := e.GetProperty(key)
	if !ok {
		return "", false, nil
	}
	out, err := coerceString(key, value)
	return out, true, err
}

// GetStringOrDefault returns key as a string, or def when absent or not coercible.
func (e *Environment) GetStringOrDefault(key, def string) string {
	value, ok, err := e.GetString(key)
	if !ok || err != nil {
		return def
	}
	return value
}

// GetInt returns key as an int64. Strings must be base-10 integer literals.
func (e *Environment) GetInt(key string) (int64, bool, error) {
	value, ok := e.GetProperty(key)
	if !ok {
		return 0, false, nil
	}
	out, err := coerceInt(key, value)
	return out, true, err
}

// GetBool returns key as a bool. Strings must be exactly "true" or "false".
func (e *Environment) GetBool(key string) (bool, bool, error) {
	value, ok := e.GetProperty(key)
	if !ok {
		return false, false, nil
	}
	out, err := coerceBool(key, value)
	return out, true, err
}

// GetDuration returns key as a time.Duration. Strings use Go duration syntax;
// bare integers are seconds.
func (e *Environment) GetDuration(key string) (time.Duration, bool, error) {
	value, ok := e.GetProperty(key)
	if !ok {
		return 0, false, nil
	}
	out, err := coerceDuration(key, value)
	return out, true, err
}

// GetStringSlice returns key split on ListDelimiter. When key itself is absent
// the indexed keys key.0, key.1, ... produced by flattening a sequence are
// assembled instead. The highest-precedence source holding either form
// supplies the whole list: a shorter list never inherits trailing elements
// from a lower source.
func (e *Environment) GetStringSlice(key string) ([]string, bool, error) {
	for _, source := range e.Snapshot().Sources() {
		if value, ok := source.Get(key); ok {
			out, err := coerceStringSlice(key, value)
			return out, true, err
		}
		if !source.Contains(key + ".0") {
			continue
		}

		var out []string
		for index := 0; ; index++ {
			elementKey := key + "." + strconv.Itoa(index)
			value, ok := source.Get(elementKey)
			if !ok {
				break
			}
			element, err := coerceString(elementKey, value)
			if err != nil {
				return nil, true, err
			}
			out = append(out, element)
		}
		return out, true, nil
	}
	return nil, false, nil
}

// Bind decodes every property under prefix into target, a pointer to a struct
// or map. An empty prefix binds the whole environment. Decoding is weakly
// typed, so string literals bind to numeric, bool and duration fields.
func (e *Environment) Bind(prefix string, target any) error {
	tree := unflatten(e.Snapshot(), prefix)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(ListDelimiter),
		),
	})
	if err != nil {
		return fmt.Errorf("bind %q: %w", prefix, err)
	}
	if err := decoder.Decode(tree); err != nil {
		return fmt.Errorf("bind %q: %w", prefix, err)
	}
	return nil
}

// unflatten rebuilds a nested tree from every key under prefix. Sources are
// walked in precedence order, so the highest source holding a path decides
// both its value and its shape: a scalar "a" above a nested "a.b" hides the
// nested key, and the reverse hides the scalar. A sequence is taken whole from
// the highest source holding any of its elements. Maps whose keys are exactly
// 0..n-1 become slices.
func unflatten(stack *Stack, prefix string) map[string]any {
	root := map[string]any{}
	match := ""
	if prefix != "" {
		match = prefix + "."
	}
	lists := map[string]bool{}
	for _, source := range stack.Sources() {
		claimed := map[string]bool{}
		for _, key := range source.Keys() {
			if match != "" && !strings.HasPrefix(key, match) {
				continue
			}
			segments := strings.Split(strings.TrimPrefix(key, match), ".")
			if underList(lists, segments) {
				continue
			}
			value, _ := source.Get(key)
			insertPath(root, segments, value)
			for index := 1; index < len(segments); index++ {
				if isIndex(segments[index]) {
					claimed[strings.Join(segments[:index], ".")] = true
				}
			}
		}
		for path := range claimed {
			lists[path] = true
		}
	}
	for key, child := range root {
		root[key] = listify(child)
	}
	return root
}

// underList reports whether segments lie inside a sequence already taken from
// a higher source.
func underList(lists map[string]bool, segments []string) bool {
	for index := 1; index < len(segments); index++ {
		if lists[strings.Join(segments[:index], ".")] {
			return true
		}
	}
	return false
}

func isIndex(segment string) bool {
	index, err := strconv.Atoi(segment)
	return err == nil && index >= 0 && strconv.Itoa(index) == segment
}

func insertPath(node map[string]any, segments []string, value any) {
	for index, segment := range segments {
		if index == len(segments)-1 {
			if _, exists := node[segment]; !exists {
				node[segment] = value
			}
			return
		}
		child, exists := node[segment]
		if !exists {
			next := map[string]any{}
			node[segment] = next
			node = next
			continue
		}
		next, ok := child.(map[string]any)
		if !ok {
			return
		}
		node = next
	}
}

func listify(node any) any {
	typed, ok := node.(map[string]any)
	if !ok {
		return node
	}
	for key, child := range typed {
		typed[key] = listify(child)
	}
	if len(typed) == 0 {
		return typed
	}
	list := make([]any, len(typed))
	for key, child := range typed {
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 || index >= len(typed) || strconv.Itoa(index) != key {
			return typed
		}
		list[index] = child
	}
	return list
}

func coerceString(key string, value any) (string, error) {
	switch typed := value.(type) {
	case string:
		return typed, nil
	case fmt.Stringer:
		return typed.String(), nil
	case bool:
		return strconv.FormatBool(typed), nil
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(typed), nil
	}
	return "", &CoercionError{Key: key, Value: value, Target: "string"}
}

func coerceInt(key string, value any) (int64, error) {
	switch typed := value.(type) {
	case int:
		return int64(typed), nil
	case int8:
		return int64(typed), nil
	case int16:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case int64:
		return typed, nil
	case uint8:
		return int64(typed), nil
	case uint16:
		return int64(typed), nil
	case uint32:
		return int64(typed), nil
	case uint:
		if uint64(typed) > math.MaxInt64 {
			return 0, &CoercionError{Key: key, Value: value, Target: "int"}
		}
		return int64(typed), nil
	case uint64:
		if typed > math.MaxInt64 {
			return 0, &CoercionError{Key: key, Value: value, Target: "int"}
		}
		return int64(typed), nil
	case float64:
		if typed != math.Trunc(typed) || typed >= math.MaxInt64 || typed < math.MinInt64 {
			return 0, &CoercionError{Key: key, Value: value, Target: "int"}
		}
		return int64(typed), nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0, &CoercionError{Key: key, Value: value, Target: "int", Err: err}
		}
		return parsed, nil
	case fmt.Stringer:
		return coerceInt(key, typed.String())
	}
	return 0, &CoercionError{Key: key, Value: value, Target: "int"}
}

func coerceBool(key string, value any) (bool, error) {
	switch typed := value.(type) {
	case bool:
		return typed, nil
	case string:
		switch strings.TrimSpace(typed) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, &CoercionError{Key: key, Value: value, Target: "bool"}
}

func coerceDuration(key string, value any) (time.Duration, error) {
	if typed, ok := value.(time.Duration); ok {
		return typed, nil
	}
	if text, ok := value.(string); ok {
		trimmed := strings.TrimSpace(text)
		if parsed, err := time.ParseDuration(trimmed); err == nil {
			return parsed, nil
		}
	}
	seconds, err := coerceInt(key, value)
	if err != nil || seconds > maxDurationSeconds || seconds < -maxDurationSeconds {
		return 0, &CoercionError{Key: key, Value: value, Target: "duration"}
	}
	return time.Duration(seconds) * time.Second, nil
}

func coerceStringSlice(key string, value any) ([]string, error) {
	text, err := coerceString(key, value)
	if err != nil {
		return nil, &CoercionError{Key: key, Value: value, Target: "list"}
	}
	parts := strings.Split(text, ListDelimiter)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}
