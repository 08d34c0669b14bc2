package configdata

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseLocator(t *testing.T) {
	tests := []struct {
		raw  string
		want Locator
	}{
		{raw: "vault:secret/config-location", want: Locator{Scheme: "vault", Path: "secret/config-location"}},
		{raw: "vault://secret/app", want: Locator{Scheme: "vault", Path: "secret/app"}},
		{raw: "  VAULT:secret/app  ", want: Locator{Scheme: "vault", Path: "secret/app"}},
		{raw: "optional:vault:secret/app", want: Locator{Scheme: "vault", Path: "secret/app", Optional: true}},
		{raw: "vault:secret/app;optional", want: Locator{Scheme: "vault", Path: "secret/app", Optional: true}},
		{raw: "OPTIONAL:vault:secret/app;Optional", want: Locator{Scheme: "vault", Path: "secret/app", Optional: true}},
		{raw: "redis:app:config", want: Locator{Scheme: "redis", Path: "app:config"}},
		{raw: "s3+yaml:bucket/key.yaml", want: Locator{Scheme: "s3+yaml", Path: "bucket/key.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseLocator(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.want.Raw = tt.raw
			if got != tt.want {
				t.Fatalf("ParseLocator(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseLocator_Errors(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		"no-separator",
		":secret/app",
		"vault:",
		"vault://",
		"1vault:secret/app",
		"va ult:secret/app",
		"vault:secret/app;required",
		"optional:",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseLocator(raw)
			if !errors.Is(err, ErrParse) {
				t.Fatalf("expected ErrParse, got %v", err)
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) || parseErr.Raw != raw {
				t.Fatalf("expected *ParseError carrying the raw input, got %#v", err)
			}
		})
	}
}

func TestLocator_String(t *testing.T) {
	loc, err := ParseLocator("optional:vault://secret/app")
	if err != nil {
		t.Fatal(err)
	}
	if loc.String() != "vault:secret/app" {
		t.Fatalf("unexpected canonical form %q", loc.String())
	}
}

func TestSplitImports(t *testing.T) {
	got := SplitImports([]string{"vault:a, redis:b", "", " ,file:c.yaml"})
	want := []string{"vault:a", "redis:b", "file:c.yaml"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitImports = %v, want %v", got, want)
	}
}

func TestParseLocators_FirstFailureAborts(t *testing.T) {
	_, err := ParseLocators([]string{"vault:a", "broken", "vault:b"})
	var parseErr *ParseError
	if !errors.As(err, &parseErr) || parseErr.Raw != "broken" {
		t.Fatalf("expected parse error for the malformed entry, got %v", err)
	}

	locators, err := ParseLocators([]string{"vault:a,optional:redis:b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(locators) != 2 || locators[0].Scheme != "vault" || !locators[1].Optional {
		t.Fatalf("unexpected locators %+v", locators)
	}
}
