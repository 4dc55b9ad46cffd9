package config

import (
	"encoding/json"

	"github.com/grovetools/tabsd/schema"
	"github.com/invopop/jsonschema"
)

// GenerateSchema generates the JSON Schema for tabsd.yml.
// Unknown top-level keys are allowed since they hold extension sections.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		// Sections are closed; only the document root accepts extensions.
		AllowAdditionalProperties: false,
		// Only fields tagged jsonschema:"required" are required.
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		FieldNameTag:               "yaml",
	}

	// Extensions is reflected away; the root is opened up below instead.
	type BaseConfig struct {
		Version     string            `yaml:"version" jsonschema:"description=Configuration version (e.g. '1.0'),oneof_type=string;number"`
		Daemon      DaemonConfig      `yaml:"daemon,omitempty" jsonschema:"description=Daemon process settings"`
		Throttle    ThrottleConfig    `yaml:"throttle,omitempty" jsonschema:"description=Per-uid speculative request limits"`
		Speculation SpeculationConfig `yaml:"speculation,omitempty" jsonschema:"description=Hidden tab backend"`
		Policy      PolicyConfig      `yaml:"policy,omitempty" jsonschema:"description=Speculation policy inputs"`
		Origins     OriginsConfig     `yaml:"origins,omitempty" jsonschema:"description=Origin verification"`
	}

	s := r.Reflect(&BaseConfig{})
	s.Title = "tabsd Configuration"
	s.Description = "Schema for tabsd.yml and tabsd.toml."
	s.AdditionalProperties = nil

	return json.MarshalIndent(s, "", "  ")
}

// SchemaValidator validates raw configuration documents against GenerateSchema.
type SchemaValidator struct {
	validator *schema.Validator
}

// NewSchemaValidator compiles the generated schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	data, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	validator, err := schema.NewValidator(data)
	if err != nil {
		return nil, err
	}
	return &SchemaValidator{validator: validator}, nil
}

// Validate validates configuration data against the schema.
func (v *SchemaValidator) Validate(configData interface{}) error {
	return v.validator.Validate(configData)
}
