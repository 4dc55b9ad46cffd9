package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "type": "object",
  "properties": {
    "throttle": {
      "type": "object",
      "properties": {
        "max_requests": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
    }
  }
}`

func TestValidator(t *testing.T) {
	v, err := NewValidator([]byte(testSchema))
	require.NoError(t, err)

	tests := []struct {
		name    string
		doc     map[string]interface{}
		wantErr string
	}{
		{
			name: "valid document",
			doc:  map[string]interface{}{"throttle": map[string]interface{}{"max_requests": 5}},
		},
		{
			name: "extension keys at the root",
			doc:  map[string]interface{}{"logging": map[string]interface{}{"level": "debug"}},
		},
		{
			name:    "below minimum",
			doc:     map[string]interface{}{"throttle": map[string]interface{}{"max_requests": 0}},
			wantErr: "/throttle/max_requests",
		},
		{
			name:    "unknown section key",
			doc:     map[string]interface{}{"throttle": map[string]interface{}{"burst": 3}},
			wantErr: "/throttle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.doc)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewValidatorRejectsBrokenSchema(t *testing.T) {
	_, err := NewValidator([]byte(`{"type": 12}`))
	assert.Error(t, err)
}
