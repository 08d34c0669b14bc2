package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nimburion/configdata/pkg/bus"
	"github.com/nimburion/configdata/pkg/config"
	"github.com/nimburion/configdata/pkg/configdata"
	sqlbackend "github.com/nimburion/configdata/pkg/configdata/backend/sql"
	"github.com/nimburion/configdata/pkg/configschema"
	"github.com/nimburion/configdata/pkg/health"
	"github.com/nimburion/configdata/pkg/migrate"
	"github.com/nimburion/configdata/pkg/observability/logger"
	"github.com/nimburion/configdata/pkg/observability/metrics"
	"github.com/nimburion/configdata/pkg/server"
	"github.com/nimburion/configdata/pkg/version"
)

type openFunc func(ctx context.Context, flags *pflag.FlagSet) (*session, error)

// loadFunc loads the bootstrap configuration without connecting backends.
type loadFunc func(flags *pflag.FlagSet) (*config.Config, logger.Logger, error)

// ErrPropertyNotFound is returned by get when no source defines the key.
var ErrPropertyNotFound = errors.New("property not found")

func newResolveCommand(open openFunc) *cobra.Command {
	var (
		output      string
		showSecrets bool
		origins     bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the configured imports and print the effective properties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			s, err := open(cmd.Context(), cmd.Flags())
			if err != nil {
				return err
			}
			defer closeRuntime(s)

			env, err := s.rt.Resolve(cmd.Context(), s.layers)
			if err != nil {
				return err
			}
			view := environmentView(env, showSecrets)
			if origins {
				return render(cmd.OutOrStdout(), format, view)
			}
			return render(cmd.OutOrStdout(), format, view.values())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print credential-like values unmasked")
	cmd.Flags().BoolVar(&origins, "origins", false, "include the source of every property")
	return cmd
}

func newGetCommand(open openFunc) *cobra.Command {
	var (
		showSecrets bool
		origin      bool
	)
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Resolve the configured imports and print one property",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), cmd.Flags())
			if err != nil {
				return err
			}
			defer closeRuntime(s)

			env, err := s.rt.Resolve(cmd.Context(), s.layers)
			if err != nil {
				return err
			}
			key := args[0]
			value, found := env.GetProperty(key)
			if !found {
				return fmt.Errorf("%w: %s", ErrPropertyNotFound, key)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, displayValue(key, value, showSecrets))
			if origin {
				source, _ := env.PropertyOrigin(key)
				fmt.Fprintf(out, "source: %s\n", source)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print credential-like values unmasked")
	cmd.Flags().BoolVar(&origin, "origin", false, "also print the source that supplied the value")
	return cmd
}

func newWatchCommand(open openFunc) *cobra.Command {
	var showSecrets bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Resolve, serve the management endpoints and refresh until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), cmd.Flags())
			if err != nil {
				return err
			}
			defer closeRuntime(s)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var hup chan os.Signal
			if s.cfg.Refresh.OnSignal {
				hup = make(chan os.Signal, 1)
				signal.Notify(hup, syscall.SIGHUP)
				defer signal.Stop(hup)
			}
			return watch(ctx, s, hup, showSecrets)
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "serve imported and credential-like values unmasked on /properties")
	return cmd
}

// watch resolves once, then refreshes on every interval tick, signal or bus
// event until ctx is done. The management server runs alongside when enabled.
func watch(ctx context.Context, s *session, signals <-chan os.Signal, showSecrets bool) error {
	env, err := s.rt.Resolve(ctx, s.layers)
	if err != nil {
		return err
	}
	s.log.Info("configuration resolved", "generation", env.Generation(), "sources", len(env.PropertySources()))

	refresh := func(ctx context.Context) error {
		return s.rt.Resolver.Refresh(ctx, env)
	}
	current := func() *configdata.Environment { return env }

	var maxAge time.Duration
	if s.cfg.Refresh.Interval > 0 {
		maxAge = 3 * s.cfg.Refresh.Interval
	}
	s.rt.Health.Register(health.NewEnvironmentChecker("environment", current, maxAge))

	group, groupCtx := errgroup.WithContext(ctx)

	var events <-chan bus.Event
	if s.rt.Bus != nil {
		listener := bus.NewListener(s.rt.Bus, s.cfg.Service.Name, s.rt.Instance, s.log)
		if events, err = listener.Listen(ctx); err != nil {
			return fmt.Errorf("subscribe to refresh bus: %w", err)
		}
	}

	if s.cfg.Management.Enabled {
		opts := server.ManagementOptions{
			Health:      s.rt.Health,
			Environment: current,
			Refresh:     refresh,
			ShowSecrets: showSecrets,
		}
		if s.rt.Bus != nil {
			opts.BusRefresh = s.rt.PublishRefresh
		}
		if s.rt.Metrics != nil {
			opts.Metrics = s.rt.Metrics
			opts.HTTPMetrics = metrics.NewHTTPMetrics(s.rt.Metrics)
		}
		management := server.NewManagementServer(s.cfg.Management, opts, s.log)
		group.Go(func() error { return management.Start(groupCtx) })
	}
	group.Go(func() error {
		refreshLoop(groupCtx, refreshTriggers{interval: s.cfg.Refresh.Interval, signals: signals, events: events}, refresh, current, s.log)
		return nil
	})
	return group.Wait()
}

// refreshTriggers are the sources of refresh requests. Nil channels and a
// zero interval never fire.
type refreshTriggers struct {
	interval time.Duration
	signals  <-chan os.Signal
	events   <-chan bus.Event
}

// refreshLoop calls refresh on every trigger. Failures keep the previous
// configuration and are only logged.
func refreshLoop(ctx context.Context, triggers refreshTriggers, refresh func(context.Context) error, current func() *configdata.Environment, log logger.Logger) {
	var tick <-chan time.Time
	if triggers.interval > 0 {
		ticker := time.NewTicker(triggers.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		var (
			trigger string
			fields  []any
		)
		select {
		case <-ctx.Done():
			return
		case <-tick:
			trigger = "interval"
		case <-triggers.signals:
			trigger = "signal"
		case event := <-triggers.events:
			trigger = "bus"
			fields = []any{"event_id", event.ID, "origin", event.Origin}
		}

		before := current().Generation()
		err := refresh(ctx)
		fields = append(fields, "trigger", trigger)
		switch {
		case err == nil:
			log.Info("configuration refreshed", append(fields, "previous", before, "generation", current().Generation())...)
		case errors.Is(err, configdata.ErrRefreshThrottled):
			log.Debug("refresh throttled", fields...)
		default:
			log.Warn("refresh failed, keeping previous configuration", append(fields, "error", err)...)
		}
	}
}

func newBusRefreshCommand(open openFunc) *cobra.Command {
	var destination string
	cmd := &cobra.Command{
		Use:   "bus-refresh",
		Short: "Publish a refresh event to every process listening on the bus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), cmd.Flags())
			if err != nil {
				return err
			}
			defer closeRuntime(s)

			eventID, err := s.rt.PublishRefresh(cmd.Context(), destination)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), eventID)
			return nil
		},
	}
	cmd.Flags().StringVar(&destination, "destination", "", "service name or pattern to refresh; empty refreshes every service")
	return cmd
}

func newMigrateCommand(load loadFunc) *cobra.Command {
	var driver string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status] [steps]",
		Short: "Manage the properties table read by the postgres and mysql backends",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			subcommand, steps, err := migrate.ParseArgs(args)
			if err != nil {
				return err
			}
			cfg, log, err := load(cmd.Flags())
			if err != nil {
				return err
			}

			var section config.SQLConfig
			switch driver {
			case sqlbackend.DriverPostgres:
				section = cfg.Postgres
			case sqlbackend.DriverMySQL:
				section = cfg.MySQL
			default:
				return fmt.Errorf("--driver must be %s or %s, got %q", sqlbackend.DriverPostgres, sqlbackend.DriverMySQL, driver)
			}
			return migrate.RunWithSQLDriver(cmd.Context(), section.URL, subcommand, steps, migrate.Options{
				Driver:  driver,
				Table:   section.Table,
				Timeout: timeout,
				Logger:  log,
				Out:     cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().StringVar(&driver, "driver", sqlbackend.DriverPostgres, "database whose properties table is migrated: postgres or mysql")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "timeout for the whole migration run")
	return cmd
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the bootstrap configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := configschema.BuildSchema()
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), formatJSON, schema)
		},
	}
}

func newVersionCommand(name string) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current(name)
			if output == "" || output == "text" {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Service:    %s\n", info.Service)
				fmt.Fprintf(out, "Version:    %s\n", info.Version)
				fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
				fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
				fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
				return nil
			}
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), format, info)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, yaml or json")
	return cmd
}

func closeRuntime(s *session) {
	if err := s.rt.Close(context.Background()); err != nil {
		s.log.Warn("failed to close runtime", "error", err)
	}
}

func displayValue(key string, value any, showSecrets bool) any {
	if !showSecrets && config.IsSecretKey(key) {
		return redactedValue
	}
	return value
}
