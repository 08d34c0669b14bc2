package migrate

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nimburion/configdata/pkg/testutil"
)

func defaultOptions() Options {
	return Options{Driver: "postgres", Table: "properties", Logger: testutil.NewMockLogger()}
}

func defaultOperations() Operations {
	return Operations{
		Up:   func(context.Context) (int, error) { return 1, nil },
		Down: func(context.Context, int) (int, error) { return 1, nil },
		Status: func(context.Context) (*Status, error) {
			return &Status{AppliedVersions: []int64{1}, Pending: []PendingMigration{{Version: 2, Name: "add_index"}}}, nil
		},
	}
}

func TestParseArgsDefaultsToUp(t *testing.T) {
	subcommand, steps, err := ParseArgs(nil)
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if subcommand != "up" || steps != 1 {
		t.Fatalf("expected up 1, got %q %d", subcommand, steps)
	}
}

func TestParseArgsInvalid(t *testing.T) {
	if _, _, err := ParseArgs([]string{"down", "bad"}); err == nil {
		t.Fatal("expected error for invalid steps")
	}
	if _, _, err := ParseArgs([]string{"sideways"}); err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestRunParsedUpLogs(t *testing.T) {
	opts := defaultOptions()
	log := testutil.NewMockLogger()
	opts.Logger = log
	if err := RunParsed(context.Background(), "up", 1, opts, defaultOperations()); err != nil {
		t.Fatalf("RunParsed() error = %v", err)
	}
	if !log.HasMessage("info", "migrations applied") {
		t.Fatal("expected applied log entry")
	}
}

func TestRunParsedDownRequiresSteps(t *testing.T) {
	if err := RunParsed(context.Background(), "down", 0, defaultOptions(), defaultOperations()); err == nil {
		t.Fatal("expected error for zero steps")
	}
}

func TestRunParsedStatusPrints(t *testing.T) {
	var out bytes.Buffer
	opts := defaultOptions()
	opts.Out = &out
	if err := RunParsed(context.Background(), "status", 1, opts, defaultOperations()); err != nil {
		t.Fatalf("RunParsed() error = %v", err)
	}
	want := "001 applied\n002 pending add_index\n"
	if out.String() != want {
		t.Fatalf("expected %q, got %q", want, out.String())
	}
}

func TestRunParsedPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	ops := defaultOperations()
	ops.Up = func(context.Context) (int, error) { return 0, boom }
	if err := RunParsed(context.Background(), "up", 1, defaultOptions(), ops); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRunParsedValidation(t *testing.T) {
	opts := defaultOptions()
	opts.Logger = nil
	if err := RunParsed(context.Background(), "up", 1, opts, defaultOperations()); err == nil {
		t.Fatal("expected error without logger")
	}
	if err := RunParsed(context.Background(), "up", 1, defaultOptions(), Operations{}); err == nil {
		t.Fatal("expected error for incomplete operations")
	}
}

func TestRunWithSQLDriverValidation(t *testing.T) {
	if err := RunWithSQLDriver(context.Background(), "postgres://db", "up", 1, Options{}); err == nil {
		t.Fatal("expected error without driver")
	}
	if err := RunWithSQLDriver(context.Background(), "", "up", 1, Options{Driver: "postgres"}); err == nil {
		t.Fatal("expected error without url")
	}
}
