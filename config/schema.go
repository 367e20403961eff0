package config

import (
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/identify/scanengine/logging"
)

// Schema returns the JSON schema of the config file format.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(logging.Level(0)) {
				return &jsonschema.Schema{Type: "string", Enum: []interface{}{"debug", "info", "warn", "error"}}
			}
			return nil
		},
	}
	return r.Reflect(&Config{})
}
