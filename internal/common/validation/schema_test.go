package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var receiptInput = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"subscriberId"},
	"properties": map[string]interface{}{
		"subscriberId": map[string]interface{}{
			"type":      "string",
			"minLength": 43,
		},
	},
}

func TestSchema_Validate(t *testing.T) {
	schema, err := Compile(receiptInput)
	require.NoError(t, err)

	tests := []struct {
		name      string
		variables string
		valid     bool
		code      string
	}{
		{"valid", `{"subscriberId":"AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE"}`, true, ""},
		{"extra variables allowed", `{"subscriberId":"AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE","other":1}`, true, ""},
		{"missing", `{}`, false, "REQUIRED"},
		{"wrong type", `{"subscriberId":12}`, false, "INVALID_TYPE"},
		{"too short", `{"subscriberId":"abc"}`, false, "STRING_GTE"},
		{"not json", `{`, false, "INVALID_JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := schema.Validate(tt.variables)
			assert.Equal(t, tt.valid, result.Valid, result.String())
			if !tt.valid {
				require.NotEmpty(t, result.Errors)
				assert.Equal(t, tt.code, result.Errors[0].Code)
			}
		})
	}
}

func TestCompile_EmptyAcceptsAnything(t *testing.T) {
	schema, err := Compile(nil)
	require.NoError(t, err)
	assert.True(t, schema.Validate(`{"anything":true}`).Valid)
}

func TestCompile_InvalidSchema(t *testing.T) {
	_, err := Compile(map[string]interface{}{"type": 12})
	assert.Error(t, err)
}
