// Package configschema derives a JSON Schema for the bootstrap configuration
// so config files can be validated by editors and CI.
package configschema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nimburion/configdata/pkg/config"
	"github.com/nimburion/configdata/pkg/configdata"
)

// enums lists the closed vocabularies of string settings by dotted key.
var enums = map[string][]any{
	"resolution.precedence": {
		string(configdata.PrecedenceAboveLocal),
		string(configdata.PrecedenceAboveOverrides),
		string(configdata.PrecedenceBelowLocal),
	},
	"resolution.import_order":  {"first-wins", "last-wins"},
	"observability.log_level":  {"debug", "info", "warn", "warning", "error"},
	"observability.log_format": {"json", "text", "console"},
	"vault.kv_version":         {0, 1, 2},
}

var durationType = reflect.TypeOf(time.Duration(0))

// BuildSchema returns the schema of config.Config keyed by mapstructure names,
// with DefaultConfig values as defaults.
func BuildSchema() (*jsonschema.Schema, error) {
	opts := &jsonschema.ForOptions{
		IgnoreInvalidTypes: true,
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			durationType: {Type: "string", Description: "Go duration, e.g. 30s"},
		},
	}

	configType := reflect.TypeOf(config.Config{})
	schema, err := jsonschema.ForType(configType, opts)
	if err != nil {
		return nil, fmt.Errorf("build config schema: %w", err)
	}
	applyFieldNames(schema, configType, "")
	injectDefaults(schema, reflect.ValueOf(config.DefaultConfig()))
	dropRequired(schema)

	schema.Title = "configdata bootstrap configuration"
	schema.Description = "Local configuration read before imports are resolved."
	schema.Schema = "https://json-schema.org/draft/2020-12/schema"
	return schema, nil
}

// applyFieldNames renames properties from Go field names to mapstructure keys
// and attaches enums.
func applyFieldNames(schema *jsonschema.Schema, t reflect.Type, prefix string) {
	if schema == nil || t.Kind() != reflect.Struct || len(schema.Properties) == 0 {
		return
	}
	renamed := make(map[string]*jsonschema.Schema, len(schema.Properties))
	order := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		prop, ok := schema.Properties[field.Name]
		if !ok {
			continue
		}
		if field.Type == durationType {
			// TypeSchemas hands out one shared node per type.
			clone := *prop
			prop = &clone
		}
		name := fieldKeyName(field)
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if values, ok := enums[key]; ok {
			prop.Enum = values
		}
		applyFieldNames(prop, field.Type, key)
		renamed[name] = prop
		order = append(order, name)
	}
	schema.Properties = renamed
	schema.PropertyOrder = order
}

func injectDefaults(schema *jsonschema.Schema, value reflect.Value) {
	for value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return
		}
		value = value.Elem()
	}
	if schema == nil {
		return
	}
	if value.Kind() != reflect.Struct {
		if raw, ok := marshalDefault(value); ok {
			schema.Default = raw
		}
		return
	}
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		injectDefaults(schema.Properties[fieldKeyName(field)], value.Field(i))
	}
}

// dropRequired clears required lists: every setting has a default or is optional.
func dropRequired(schema *jsonschema.Schema) {
	if schema == nil {
		return
	}
	schema.Required = nil
	for _, prop := range schema.Properties {
		dropRequired(prop)
	}
}

func marshalDefault(value reflect.Value) (json.RawMessage, bool) {
	switch value.Kind() {
	case reflect.Invalid:
		return nil, false
	case reflect.String:
		if value.Len() == 0 {
			return nil, false
		}
	case reflect.Slice:
		if value.IsNil() {
			return nil, false
		}
	}
	var payload []byte
	var err error
	if duration, ok := value.Interface().(time.Duration); ok {
		payload, err = json.Marshal(duration.String())
	} else {
		payload, err = json.Marshal(value.Interface())
	}
	if err != nil {
		return nil, false
	}
	return payload, true
}

func fieldKeyName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
	if name == "" || name == "-" {
		return strings.ToLower(field.Name)
	}
	return name
}
