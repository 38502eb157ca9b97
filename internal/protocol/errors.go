// internal/protocol/errors.go
package protocol

// ErrorType classifies a failure for caller-side branching
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "VALIDATION"
	ErrorTypeNetwork       ErrorType = "NETWORK"
	ErrorTypeTimeout       ErrorType = "TIMEOUT"
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeConfiguration ErrorType = "CONFIGURATION"
	ErrorTypeInternal      ErrorType = "INTERNAL"
	ErrorTypeAuthorization ErrorType = "AUTHORIZATION"
)

// Error codes, grouped in bands: 1xxx system, 2xxx device/connection,
// 3xxx data operation, 4xxx configuration, 5xxx protocol framing.
const (
	CodeInternalError = 1001
	CodeShuttingDown  = 1002

	CodeDeviceNotFound     = 2001
	CodeDeviceNotConnected = 2002
	CodeConnectFailed      = 2003
	CodeDisconnectFailed   = 2004
	CodeDeviceExists       = 2005
	CodeTestFailed         = 2006

	CodeReadFailed       = 3001
	CodeWriteFailed      = 3002
	CodeConversionFailed = 3003
	CodeBatchTooLarge    = 3004
	CodeMissingValue     = 3005
	CodeOperationTimeout = 3006

	CodeInvalidDeviceConfig = 4001
	CodeUnsupportedType     = 4002
	CodeDriverUnavailable   = 4003

	CodeMalformedMessage = 5001
	CodeValidationFailed = 5002
	CodeUnknownCommand   = 5003
	CodeVersionMismatch  = 5004
	CodeMessageTooLarge  = 5005
)

// ErrorResponse is the structured error carried by a failed Response
type ErrorResponse struct {
	Code         int       `json:"code"`
	Message      string    `json:"message"`
	Details      []string  `json:"details,omitempty"`
	Type         ErrorType `json:"type"`
	Retryable    bool      `json:"retryable"`
	RetryDelayMs int       `json:"retryDelayMs,omitempty"`
	ResourceID   string    `json:"resourceId,omitempty"`
}

// NewError builds an ErrorResponse with retry guidance derived from the type.
func NewError(code int, errType ErrorType, message string, details ...string) *ErrorResponse {
	retryable, delay := retryPolicy(errType)
	return &ErrorResponse{
		Code:         code,
		Message:      message,
		Details:      details,
		Type:         errType,
		Retryable:    retryable,
		RetryDelayMs: delay,
	}
}

// WithResource attaches the related device or connection id.
func (e *ErrorResponse) WithResource(id string) *ErrorResponse {
	e.ResourceID = id
	return e
}

// retryPolicy maps error types to retry guidance. Timeout and Network
// failures are transient; everything else requires caller-side changes.
func retryPolicy(t ErrorType) (bool, int) {
	switch t {
	case ErrorTypeTimeout:
		return true, 1000
	case ErrorTypeNetwork:
		return true, 5000
	default:
		return false, 0
	}
}
