// Package cli builds the configdata command line: resolve, get, watch,
// bus-refresh, migrate, schema and version.
//
// Every command reads the bootstrap configuration from, in decreasing
// precedence, --set and --import flags, APP_* environment variables, the
// --config-file and built-in defaults. Commands that touch backends then
// connect every backend the configuration enables and resolve the imports.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nimburion/configdata/pkg/bus"
	"github.com/nimburion/configdata/pkg/config"
	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

// Options customizes the root command.
type Options struct {
	Name        string
	Description string
	// ConfigPath is the default for --config-file.
	ConfigPath string
	EnvPrefix  string
	// Out receives command output. Defaults to stdout.
	Out io.Writer
	// LogOutput receives log entries. Defaults to stderr.
	LogOutput io.Writer
	// Backends are registered in addition to those enabled by the configuration.
	Backends map[string]configdata.Backend
	// Bus replaces the refresh bus transport selected by bus.type.
	Bus bus.Transport
}

// session is the state shared by every subcommand once flags are parsed.
type session struct {
	cfg    *config.Config
	layers configdata.Layers
	log    logger.Logger
	rt     *Runtime
}

// NewRootCommand creates the configdata command tree. Errors are returned,
// not printed; use Execute to print them and set the exit code.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "configdata"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(opts.Out)

	var cfgPath string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	config.RegisterFlags(rootCmd.PersistentFlags())

	// open loads the bootstrap config and connects the backends.
	open := func(ctx context.Context, flags *pflag.FlagSet) (*session, error) {
		cfg, layers, log, err := LoadConfigAndLogger(cfgPath, opts.EnvPrefix, flags, opts.LogOutput)
		if err != nil {
			return nil, err
		}
		rt, err := NewRuntime(ctx, cfg, log, Extensions{Backends: opts.Backends, Bus: opts.Bus})
		if err != nil {
			return nil, err
		}
		return &session{cfg: cfg, layers: layers, log: log, rt: rt}, nil
	}

	// load only reads the bootstrap config, for commands that manage a backend
	// rather than resolve from it.
	load := func(flags *pflag.FlagSet) (*config.Config, logger.Logger, error) {
		cfg, _, log, err := LoadConfigAndLogger(cfgPath, opts.EnvPrefix, flags, opts.LogOutput)
		return cfg, log, err
	}

	rootCmd.AddCommand(
		newResolveCommand(open),
		newGetCommand(open),
		newWatchCommand(open),
		newBusRefreshCommand(open),
		newMigrateCommand(load),
		newSchemaCommand(),
		newVersionCommand(opts.Name),
	)
	return rootCmd
}

// LoadConfigAndLogger loads and validates the bootstrap configuration and
// builds the logger it describes. The returned layers are the local property
// sources the resolver stacks around the imports. Log entries go to
// logOutput, or stderr when it is nil.
func LoadConfigAndLogger(cfgPath, envPrefix string, flags *pflag.FlagSet, logOutput io.Writer) (*config.Config, configdata.Layers, logger.Logger, error) {
	provider := config.NewConfigProvider(cfgPath, envPrefix).WithFlags(flags)
	cfg, layers, err := provider.Load()
	if err != nil {
		return nil, configdata.Layers{}, nil, fmt.Errorf("load config: %w", err)
	}

	level, _ := logger.ParseLogLevel(cfg.Observability.LogLevel)
	format, _ := logger.ParseLogFormat(cfg.Observability.LogFormat)
	log, err := logger.NewZapLogger(logger.Config{
		Level:  level,
		Format: format,
		Output: logOutput,
		Fields: []any{"service", cfg.Service.Name},
	})
	if err != nil {
		return nil, configdata.Layers{}, nil, fmt.Errorf("create logger: %w", err)
	}

	log.Debug("bootstrap configuration loaded",
		"config_file", provider.ConfigFile(),
		"imports", cfg.Config.Import,
		"redis_url", config.RedactURL(cfg.Redis.URL),
	)
	return cfg, layers, log, nil
}

// Execute runs cmd and exits non-zero on error.
func Execute(cmd *cobra.Command) {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
