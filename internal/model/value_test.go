// internal/model/value_test.go
package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name        string
		raw         interface{}
		target      DataType
		expected    interface{}
		expectError bool
	}{
		{
			name:     "numeric string to int16",
			raw:      "123",
			target:   TypeInt16,
			expected: int64(123),
		},
		{
			name:     "number to string",
			raw:      float64(123),
			target:   TypeString,
			expected: "123",
		},
		{
			name:     "string true to bool",
			raw:      "true",
			target:   TypeBool,
			expected: true,
		},
		{
			name:     "string FALSE to bool",
			raw:      "FALSE",
			target:   TypeBool,
			expected: false,
		},
		{
			name:     "nonzero number to bool",
			raw:      float64(2),
			target:   TypeBool,
			expected: true,
		},
		{
			name:        "out of range string for int16",
			raw:         "70000",
			target:      TypeInt16,
			expectError: true,
		},
		{
			name:        "fractional number to int32",
			raw:         float64(1.5),
			target:      TypeInt32,
			expectError: true,
		},
		{
			name:        "negative number to uint16",
			raw:         float64(-1),
			target:      TypeUInt16,
			expectError: true,
		},
		{
			name:     "integral float to uint32",
			raw:      float64(70000),
			target:   TypeUInt32,
			expected: uint64(70000),
		},
		{
			name:     "bool to int16",
			raw:      true,
			target:   TypeInt16,
			expected: int64(1),
		},
		{
			name:     "string to double",
			raw:      "3.25",
			target:   TypeDouble,
			expected: 3.25,
		},
		{
			name:        "float32 overflow",
			raw:         float64(1e39),
			target:      TypeFloat,
			expectError: true,
		},
		{
			name:     "bool to string",
			raw:      false,
			target:   TypeString,
			expected: "false",
		},
		{
			name:        "garbage string to bool",
			raw:         "maybe",
			target:      TypeBool,
			expectError: true,
		},
		{
			name:        "unsupported target type",
			raw:         "x",
			target:      DataType("BLOB"),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Convert(tt.raw, tt.target)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, v.Type)
			assert.Equal(t, tt.expected, v.Interface())
		})
	}
}

func TestConvertInt64Boundaries(t *testing.T) {
	v, err := Convert("32767", TypeInt16)
	require.NoError(t, err)
	assert.Equal(t, int64(32767), v.Int())

	_, err = Convert("32768", TypeInt16)
	assert.Error(t, err)

	v, err = Convert("-32768", TypeInt16)
	require.NoError(t, err)
	assert.Equal(t, int64(-32768), v.Int())

	_, err = Convert("-32769", TypeInt16)
	assert.Error(t, err)
}

func TestValueMarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		value    Value
		expected string
	}{
		{"bool", BoolValue(true), "true"},
		{"int", IntValue(TypeInt32, -42), "-42"},
		{"uint", UintValue(TypeUInt16, 42), "42"},
		{"double", FloatValue(TypeDouble, 1.5), "1.5"},
		{"string", StringValue("plc"), `"plc"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(data))
		})
	}
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, "-7", IntValue(TypeInt64, -7).String())
	assert.Equal(t, "1.25", FloatValue(TypeDouble, 1.25).String())
	assert.Equal(t, "ok", StringValue("ok").String())
}
