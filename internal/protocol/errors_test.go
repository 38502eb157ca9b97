// internal/protocol/errors_test.go
package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryGuidanceByType(t *testing.T) {
	tests := []struct {
		errType   ErrorType
		retryable bool
		delayMs   int
	}{
		{ErrorTypeTimeout, true, 1000},
		{ErrorTypeNetwork, true, 5000},
		{ErrorTypeValidation, false, 0},
		{ErrorTypeNotFound, false, 0},
		{ErrorTypeConfiguration, false, 0},
		{ErrorTypeInternal, false, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			e := NewError(CodeInternalError, tt.errType, "boom")
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.Equal(t, tt.delayMs, e.RetryDelayMs)
		})
	}
}

func TestWithResource(t *testing.T) {
	e := NewError(CodeDeviceNotFound, ErrorTypeNotFound, "device plc-1 not found").WithResource("plc-1")
	assert.Equal(t, "plc-1", e.ResourceID)
	assert.Equal(t, 2001, e.Code)
}
