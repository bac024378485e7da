package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Authentication errors
// 13000-13999: Submission & Execution errors
// 14000-14999: Queue & Object storage errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Authentication Errors (11000-11999) ==========

	TokenExpired          ErrorCode = 11003
	TokenInvalid          ErrorCode = 11004
	TokenGenerationFailed ErrorCode = 11005
	TokenRevoked          ErrorCode = 11006

	// ========== Submission & Execution Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound    ErrorCode = 13000
	CodeTooLarge          ErrorCode = 13002
	LanguageNotSupported  ErrorCode = 13003
	SubmissionInFlight    ErrorCode = 13004
	LimitOutOfRange       ErrorCode = 13005
	SubmissionCookieStale ErrorCode = 13007

	// Execution (13100-13199)
	SandboxSpawnFailed ErrorCode = 13100
	ScratchIOFailed    ErrorCode = 13101
	RunnerSystemError  ErrorCode = 13102

	// ========== Queue & Storage Errors (14000-14999) ==========

	QueueError          ErrorCode = 14000
	QueueReceiptUnknown ErrorCode = 14001
	StorageError        ErrorCode = 14100
	ObjectNotFound      ErrorCode = 14101
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Authentication
	TokenExpired:          "Token has expired",
	TokenInvalid:          "Invalid token",
	TokenGenerationFailed: "Failed to generate token",
	TokenRevoked:          "Token has been revoked",

	// Submission
	SubmissionNotFound:    "Submission not found",
	CodeTooLarge:          "Code is too large",
	LanguageNotSupported:  "Programming language not supported",
	SubmissionInFlight:    "Submission is still processing, please wait",
	LimitOutOfRange:       "Resource limit out of range",
	SubmissionCookieStale: "Submission cookie is missing or expired",

	// Execution
	SandboxSpawnFailed: "Failed to start sandboxed process",
	ScratchIOFailed:    "Scratch directory I/O failed",
	RunnerSystemError:  "Runner system error",

	// Queue & Storage
	QueueError:          "Queue operation failed",
	QueueReceiptUnknown: "Unknown queue receipt",
	StorageError:        "Object storage operation failed",
	ObjectNotFound:      "Object not found",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c >= 11000 && c < 12000: // Authentication errors
		return 401
	case c == Unauthorized:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == SubmissionNotFound, c == ObjectNotFound, c == RecordNotFound:
		return 404
	case c == TooManyRequests, c == SubmissionInFlight:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == LanguageNotSupported, c == LimitOutOfRange, c == CodeTooLarge:
		return 400
	default:
		return 500
	}
}
