// Package migrate manages the schema of the properties table read by the sql
// config backend. Migrations ship embedded per dialect and are applied in
// version order; applied versions are tracked in configdata_schema_migrations.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nimburion/configdata/pkg/observability/logger"
)

const (
	defaultSubcommand = "up"
	defaultSteps      = 1
)

// PendingMigration is an unapplied migration.
type PendingMigration struct {
	Version int64
	Name    string
}

// Status lists applied versions and pending migrations.
type Status struct {
	AppliedVersions []int64
	Pending         []PendingMigration
}

// Operations are the actions behind the up, down and status subcommands.
type Operations struct {
	Up     func(ctx context.Context) (int, error)
	Down   func(ctx context.Context, steps int) (int, error)
	Status func(ctx context.Context) (*Status, error)
}

// Options configures a migration run.
type Options struct {
	Driver  string
	Table   string
	Timeout time.Duration
	Logger  logger.Logger
	// Out receives the status listing. Nothing is printed when nil.
	Out io.Writer
}

// RunParsed executes a parsed migration subcommand.
func RunParsed(ctx context.Context, subcommand string, steps int, opts Options, ops Operations) error {
	if opts.Logger == nil {
		return errors.New("migration logger is required")
	}
	if ops.Up == nil || ops.Down == nil || ops.Status == nil {
		return errors.New("migration operations are incomplete")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch subcommand {
	case "up":
		applied, err := ops.Up(ctx)
		if err != nil {
			return err
		}
		opts.Logger.Info("migrations applied", "count", applied, "driver", opts.Driver, "table", opts.Table)
		return nil
	case "down":
		if steps <= 0 {
			return errors.New("steps must be greater than zero")
		}
		reverted, err := ops.Down(ctx, steps)
		if err != nil {
			return err
		}
		opts.Logger.Info("migrations reverted", "count", reverted, "steps", steps, "driver", opts.Driver, "table", opts.Table)
		return nil
	case "status":
		status, err := ops.Status(ctx)
		if err != nil {
			return err
		}
		opts.Logger.Info("migration status", "applied", len(status.AppliedVersions), "pending", len(status.Pending), "driver", opts.Driver)
		if opts.Out != nil {
			for _, version := range status.AppliedVersions {
				fmt.Fprintf(opts.Out, "%03d applied\n", version)
			}
			for _, pending := range status.Pending {
				fmt.Fprintf(opts.Out, "%03d pending %s\n", pending.Version, pending.Name)
			}
		}
		return nil
	default:
		return usageError()
	}
}

// ParseArgs parses [up|down|status] [steps], defaulting to "up".
func ParseArgs(args []string) (string, int, error) {
	subcommand := defaultSubcommand
	if len(args) > 0 {
		subcommand = args[0]
	}

	steps := defaultSteps
	if len(args) > 1 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil {
			return "", 0, fmt.Errorf("invalid down steps %q", args[1])
		}
		steps = parsed
	}

	switch subcommand {
	case "up", "down", "status":
		return subcommand, steps, nil
	default:
		return "", 0, usageError()
	}
}

func usageError() error {
	return errors.New("usage: migrate [up|down|status] [steps]")
}
