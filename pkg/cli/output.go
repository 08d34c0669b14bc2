package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nimburion/configdata/pkg/configdata"
)

const redactedValue = "***"

type outputFormat string

const (
	formatYAML outputFormat = "yaml"
	formatJSON outputFormat = "json"
)

func parseFormat(raw string) (outputFormat, error) {
	switch outputFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case "", formatYAML, "yml":
		return formatYAML, nil
	case formatJSON:
		return formatJSON, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use yaml or json)", raw)
	}
}

func render(w io.Writer, format outputFormat, value any) error {
	if format == formatJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	}
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(value); err != nil {
		return err
	}
	return encoder.Close()
}

// resolvedView is the printable form of an environment.
type resolvedView struct {
	Generation string          `json:"generation" yaml:"generation"`
	Sources    []string        `json:"sources" yaml:"sources"`
	Properties []propertyEntry `json:"properties" yaml:"properties"`
}

type propertyEntry struct {
	Key    string `json:"key" yaml:"key"`
	Value  any    `json:"value" yaml:"value"`
	Source string `json:"source" yaml:"source"`
}

// environmentView captures the winning value and origin of every key from a
// single snapshot.
func environmentView(env *configdata.Environment, showSecrets bool) resolvedView {
	stack := env.Snapshot()
	view := resolvedView{Generation: stack.ID()}
	for _, source := range stack.Sources() {
		view.Sources = append(view.Sources, source.Name())
	}
	for _, key := range stack.Keys() {
		value, origin, _ := stack.Lookup(key)
		view.Properties = append(view.Properties, propertyEntry{
			Key:    key,
			Value:  displayValue(key, value, showSecrets),
			Source: origin,
		})
	}
	return view
}

func (v resolvedView) values() map[string]any {
	values := make(map[string]any, len(v.Properties))
	for _, entry := range v.Properties {
		values[entry.Key] = entry.Value
	}
	return values
}
