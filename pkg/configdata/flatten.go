package configdata

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Flatten converts a nested payload into dotted-path scalar entries.
// Nested maps contribute "parent.child" keys, sequences contribute "parent.0",
// "parent.1" and nil becomes the empty string. The result never contains maps
// or slices.
func Flatten(payload map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(payload))
	if err := flattenInto(out, "", payload); err != nil {
		return nil, err
	}
	if err := checkPrefixConflicts(out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out map[string]any, prefix string, value any) error {
	switch typed := value.(type) {
	case map[string]any:
		for _, key := range sortedKeys(typed) {
			if err := flattenInto(out, joinKey(prefix, key), typed[key]); err != nil {
				return err
			}
		}
		return nil
	case map[any]any:
		converted := make(map[string]any, len(typed))
		for key, nested := range typed {
			converted[fmt.Sprint(key)] = nested
		}
		return flattenInto(out, prefix, converted)
	case []any:
		for index, nested := range typed {
			if err := flattenInto(out, joinKey(prefix, strconv.Itoa(index)), nested); err != nil {
				return err
			}
		}
		return nil
	case []string:
		for index, nested := range typed {
			if err := flattenInto(out, joinKey(prefix, strconv.Itoa(index)), nested); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return put(out, prefix, "")
	}

	// Typed maps and slices that did not match above (map[string]string, []int, ...).
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map:
		converted := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			converted[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
		}
		return flattenInto(out, prefix, converted)
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return put(out, prefix, string(rv.Bytes()))
		}
		for index := 0; index < rv.Len(); index++ {
			if err := flattenInto(out, joinKey(prefix, strconv.Itoa(index)), rv.Index(index).Interface()); err != nil {
				return err
			}
		}
		return nil
	}
	return put(out, prefix, value)
}

func put(out map[string]any, key string, value any) error {
	if key == "" {
		return &FlattenConflictError{Key: key}
	}
	if _, exists := out[key]; exists {
		return &FlattenConflictError{Key: key}
	}
	out[key] = value
	return nil
}

// checkPrefixConflicts rejects a scalar key that is also the parent of another
// key, e.g. {"a": "x", "a.b": "y"}.
func checkPrefixConflicts(entries map[string]any) error {
	keys := sortedKeys(entries)
	for index := 0; index+1 < len(keys); index++ {
		key := keys[index]
		// Sorted order places "a.b" right after "a" unless a key like "a-x" sits
		// between them, so scan forward while the shared prefix holds.
		for next := index + 1; next < len(keys) && strings.HasPrefix(keys[next], key); next++ {
			if strings.HasPrefix(keys[next], key+".") {
				return &FlattenConflictError{Key: key, Other: keys[next]}
			}
		}
	}
	return nil
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
