package config

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/configdata/backend/file"
)

// DefaultEnvPrefix prefixes the environment variables read by the provider.
const DefaultEnvPrefix = "APP"

// Flag names registered by RegisterFlags.
const (
	SetFlag    = "set"
	ImportFlag = "import"
)

// Names of the local property sources.
const (
	SourceCommandLine = "commandLineArgs"
	SourceEnvironment = "systemEnvironment"
	SourceDefaults    = "defaultProperties"
)

// ImportKey is the property holding the import directives.
const ImportKey = "config.import"

// ConfigProvider builds the local layers (command line, environment, config
// file and defaults) and binds the bootstrap Config from them.
type ConfigProvider struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// NewConfigProvider returns a provider reading configFile, which may be empty,
// and environment variables starting with envPrefix.
func NewConfigProvider(configFile, envPrefix string) *ConfigProvider {
	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}
	return &ConfigProvider{configFile: configFile, envPrefix: envPrefix}
}

// WithFlags reads --set and --import overrides from flags.
func (p *ConfigProvider) WithFlags(flags *pflag.FlagSet) *ConfigProvider {
	p.flags = flags
	return p
}

// ConfigFile returns the configured file path.
func (p *ConfigProvider) ConfigFile() string {
	return p.configFile
}

// RegisterFlags adds the override flags understood by the provider.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringArray(SetFlag, nil, "override a property, key=value (repeatable)")
	flags.StringSlice(ImportFlag, nil, "import directive such as vault:secret/app (repeatable)")
}

// Layers returns the local property sources. Absent inputs contribute no source.
func (p *ConfigProvider) Layers() (configdata.Layers, error) {
	keys, defaults := settingsOf(DefaultConfig())

	defaultSource, err := p.defaultsSource(defaults)
	if err != nil {
		return configdata.Layers{}, err
	}
	fileSource, err := p.fileSource()
	if err != nil {
		return configdata.Layers{}, err
	}
	envSource, err := p.envSource(keys)
	if err != nil {
		return configdata.Layers{}, err
	}
	flagSource, err := p.flagSource()
	if err != nil {
		return configdata.Layers{}, err
	}

	return configdata.Layers{
		Overrides: present(flagSource, envSource),
		Local:     present(fileSource),
		Defaults:  present(defaultSource),
	}, nil
}

// Load binds and validates the bootstrap Config from the local layers and
// returns the layers for the resolver.
func (p *ConfigProvider) Load() (*Config, configdata.Layers, error) {
	layers, err := p.Layers()
	if err != nil {
		return nil, configdata.Layers{}, err
	}
	env := configdata.NewEnvironment(configdata.BuildStack(layers.Overrides, layers.Local, layers.Defaults))

	cfg := &Config{}
	if err := env.Bind("", cfg); err != nil {
		return nil, configdata.Layers{}, fmt.Errorf("failed to bind config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, configdata.Layers{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, layers, nil
}

func (p *ConfigProvider) defaultsSource(defaults map[string]any) (*configdata.PropertySource, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return configdata.NewPropertySource(SourceDefaults, v.AllSettings())
}

func (p *ConfigProvider) fileSource() (*configdata.PropertySource, error) {
	if p.configFile == "" {
		return nil, nil
	}
	settings, err := file.New("").Fetch(context.Background(), p.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return configdata.NewPropertySource(fmt.Sprintf("applicationConfig: [%s]", p.configFile), settings)
}

// envSource reads PREFIX_SECTION_KEY for every known key, e.g.
// APP_RESOLUTION_TIMEOUT for resolution.timeout.
func (p *ConfigProvider) envSource(keys []string) (*configdata.PropertySource, error) {
	v := viper.New()
	v.SetEnvPrefix(p.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	entries := map[string]any{}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
		if v.IsSet(key) {
			entries[key] = v.GetString(key)
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return configdata.NewPropertySource(SourceEnvironment, entries)
}

func (p *ConfigProvider) flagSource() (*configdata.PropertySource, error) {
	if p.flags == nil {
		return nil, nil
	}
	entries := map[string]any{}
	if flag := p.flags.Lookup(SetFlag); flag != nil && flag.Changed {
		sets, err := p.flags.GetStringArray(SetFlag)
		if err != nil {
			return nil, err
		}
		for _, set := range sets {
			key, value, ok := strings.Cut(set, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return nil, fmt.Errorf("invalid --%s %q: expected key=value", SetFlag, set)
			}
			entries[key] = value
		}
	}
	if flag := p.flags.Lookup(ImportFlag); flag != nil && flag.Changed {
		imports, err := p.flags.GetStringSlice(ImportFlag)
		if err != nil {
			return nil, err
		}
		entries[ImportKey] = strings.Join(imports, ",")
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return configdata.NewPropertySource(SourceCommandLine, entries)
}

func present(sources ...*configdata.PropertySource) []*configdata.PropertySource {
	out := make([]*configdata.PropertySource, 0, len(sources))
	for _, source := range sources {
		if source != nil {
			out = append(out, source)
		}
	}
	return out
}

// settingsOf walks the mapstructure tags of cfg and returns every leaf key in
// declaration order with its value.
func settingsOf(cfg *Config) ([]string, map[string]any) {
	var keys []string
	values := map[string]any{}
	collectSettings(reflect.ValueOf(cfg).Elem(), "", &keys, values)
	return keys, values
}

func collectSettings(value reflect.Value, prefix string, keys *[]string, values map[string]any) {
	structType := value.Type()
	for index := 0; index < structType.NumField(); index++ {
		field := structType.Field(index)
		if field.PkgPath != "" {
			continue
		}
		name := strings.TrimSpace(strings.Split(field.Tag.Get("mapstructure"), ",")[0])
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		fieldValue := value.Field(index)
		if fieldValue.Kind() == reflect.Struct {
			collectSettings(fieldValue, key, keys, values)
			continue
		}
		*keys = append(*keys, key)
		values[key] = fieldValue.Interface()
	}
}
