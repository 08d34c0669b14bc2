package configdata

import (
	"errors"
	"fmt"
)

var (
	// ErrParse classifies malformed import locators. Always fatal.
	ErrParse = errors.New("configdata: invalid import locator")
	// ErrUnsupportedScheme classifies locators whose scheme has no registered backend.
	ErrUnsupportedScheme = errors.New("configdata: unsupported locator scheme")
	// ErrMissingSecret classifies a non-optional locator whose path does not exist.
	ErrMissingSecret = errors.New("configdata: secret not found")
	// ErrBackendUnavailable classifies transport, auth, timeout and cancellation failures.
	ErrBackendUnavailable = errors.New("configdata: backend unavailable")
	// ErrFlattenConflict classifies ambiguous nested data that cannot be flattened.
	ErrFlattenConflict = errors.New("configdata: flatten conflict")
	// ErrCoercion classifies typed reads whose stored value cannot be converted.
	ErrCoercion = errors.New("configdata: coercion failed")
	// ErrNotFound is returned by backends when the requested path does not exist.
	ErrNotFound = errors.New("configdata: path not found")
	// ErrRefreshThrottled is returned when a refresh arrives faster than the configured limit.
	ErrRefreshThrottled = errors.New("configdata: refresh throttled")
)

// ParseError reports why an import string could not be parsed.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrParse.Error(), e.Raw, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// LocatorError ties a resolution failure to the locator that caused it.
// It matches both its Kind and its cause with errors.Is.
type LocatorError struct {
	Kind    error
	Locator Locator
	Err     error
}

func (e *LocatorError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Locator)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind.Error(), e.Locator, e.Err)
}

func (e *LocatorError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// FlattenConflictError reports a key that is both a scalar and a nested structure,
// or a key produced twice by flattening.
type FlattenConflictError struct {
	Key   string
	Other string
}

func (e *FlattenConflictError) Error() string {
	if e.Other == "" || e.Other == e.Key {
		return fmt.Sprintf("%s: key %q produced more than once", ErrFlattenConflict.Error(), e.Key)
	}
	return fmt.Sprintf("%s: scalar key %q collides with nested key %q", ErrFlattenConflict.Error(), e.Key, e.Other)
}

func (e *FlattenConflictError) Unwrap() error { return ErrFlattenConflict }

// CoercionError reports a typed read that failed. It never affects other reads.
type CoercionError struct {
	Key    string
	Value  any
	Target string
	Err    error
}

func (e *CoercionError) Error() string {
	msg := fmt.Sprintf("%s: property %q value %v is not a valid %s", ErrCoercion.Error(), e.Key, e.Value, e.Target)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CoercionError) Unwrap() error { return ErrCoercion }

func locatorError(kind error, loc Locator, cause error) error {
	return &LocatorError{Kind: kind, Locator: loc, Err: cause}
}
