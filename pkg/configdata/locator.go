package configdata

import (
	"strings"
)

const (
	optionalPrefix = "optional:"
	optionalSuffix = ";optional"
)

// Locator is a parsed import directive pointing at a backend path.
type Locator struct {
	Scheme   string
	Path     string
	Optional bool
	Raw      string
}

// String renders the canonical "scheme:path" form used as the property source name.
func (l Locator) String() string {
	return l.Scheme + ":" + l.Path
}

// ParseLocator parses an import string of the form [optional:]scheme:path[;optional].
// A leading "//" on the path is dropped so that "vault://secret/app" and
// "vault:secret/app" address the same secret.
func ParseLocator(raw string) (Locator, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Locator{}, &ParseError{Raw: raw, Reason: "empty import"}
	}

	loc := Locator{Raw: raw}
	if hasFoldPrefix(text, optionalPrefix) {
		loc.Optional = true
		text = strings.TrimSpace(text[len(optionalPrefix):])
	}
	if hasFoldSuffix(text, optionalSuffix) {
		loc.Optional = true
		text = strings.TrimSpace(text[:len(text)-len(optionalSuffix)])
	}

	scheme, path, ok := strings.Cut(text, ":")
	if !ok {
		return Locator{}, &ParseError{Raw: raw, Reason: "missing scheme separator ':'"}
	}
	scheme = strings.TrimSpace(scheme)
	if scheme == "" {
		return Locator{}, &ParseError{Raw: raw, Reason: "scheme is empty"}
	}
	if !validScheme(scheme) {
		return Locator{}, &ParseError{Raw: raw, Reason: "scheme " + scheme + " contains invalid characters"}
	}

	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "//")
	if path == "" {
		return Locator{}, &ParseError{Raw: raw, Reason: "path is empty"}
	}
	if strings.Contains(path, ";") {
		return Locator{}, &ParseError{Raw: raw, Reason: "unknown locator option in " + path}
	}

	loc.Scheme = strings.ToLower(scheme)
	loc.Path = path
	return loc, nil
}

// ParseLocators parses every import in declaration order. The first failure aborts.
func ParseLocators(imports []string) ([]Locator, error) {
	locators := make([]Locator, 0, len(imports))
	for _, raw := range SplitImports(imports) {
		loc, err := ParseLocator(raw)
		if err != nil {
			return nil, err
		}
		locators = append(locators, loc)
	}
	return locators, nil
}

// SplitImports expands comma-separated entries, as they arrive from env vars
// and flags, and drops blank entries.
func SplitImports(imports []string) []string {
	out := make([]string, 0, len(imports))
	for _, entry := range imports {
		for _, part := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func validScheme(scheme string) bool {
	for i, r := range scheme {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func hasFoldSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}
