// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"testing"
)

// SkipIfShort skips container-backed tests under -short.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// RequireEnv skips the test unless every named variable is set and returns
// their values in order.
func RequireEnv(t *testing.T, names ...string) []string {
	t.Helper()
	values := make([]string, len(names))
	for i, name := range names {
		value := os.Getenv(name)
		if value == "" {
			t.Skipf("skipping test: %s is not set", name)
		}
		values[i] = value
	}
	return values
}
