package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Session errors
// 12000-12999: Problem module errors
// 13000-13999: Submission & Judge module errors
// 14000-14999: Contest & Ranking module errors

const (
	// ========== System & Common Errors (10000-10999) ==========

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

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Session Errors (11000-11999) ==========

	SessionNotFound       ErrorCode = 11000
	SessionExpired        ErrorCode = 11001
	TokenInvalid          ErrorCode = 11002
	TokenGenerationFailed ErrorCode = 11003

	// ========== Problem Module Errors (12000-12999) ==========

	ProblemNotFound  ErrorCode = 12000
	CatalogInvalid   ErrorCode = 12001
	TestCaseInvalid  ErrorCode = 12100
	NoSampleTestCase ErrorCode = 12101

	// ========== Submission & Judge Module Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	VerdictAlreadyRecorded ErrorCode = 13004

	// Judge (13100-13199)
	JudgeQueueClosed    ErrorCode = 13100
	JudgeSystemError    ErrorCode = 13101
	JudgeRetryExhausted ErrorCode = 13102

	// ========== Contest & Ranking Errors (14000-14999) ==========

	ContestNotFound   ErrorCode = 14000
	ContestNotActive  ErrorCode = 14001
	ContestEnded      ErrorCode = 14002
	ContestInvalid    ErrorCode = 14003
	RankingNotReady   ErrorCode = 14200
	RankingUpdateLost ErrorCode = 14201
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",

	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	SessionNotFound:       "Session not found",
	SessionExpired:        "Session has expired",
	TokenInvalid:          "Invalid session token",
	TokenGenerationFailed: "Failed to generate session token",

	ProblemNotFound:  "Problem not found",
	CatalogInvalid:   "Problem catalog is invalid",
	TestCaseInvalid:  "Invalid test case",
	NoSampleTestCase: "Problem has no sample test cases",

	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",
	VerdictAlreadyRecorded: "Verdict already recorded for submission",

	JudgeQueueClosed:    "Judge queue is closed",
	JudgeSystemError:    "Judge system error",
	JudgeRetryExhausted: "Judge system error after retries",

	ContestNotFound:   "Contest not found",
	ContestNotActive:  "Contest is not active",
	ContestEnded:      "Contest has ended",
	ContestInvalid:    "Invalid contest definition",
	RankingNotReady:   "Ranking is not available",
	RankingUpdateLost: "Ranking update could not be applied",
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
	case c == Unauthorized, c >= 11000 && c < 12000:
		return 401
	case c == Forbidden, c == ContestNotActive, c == ContestEnded:
		return 403
	case c == NotFound, c == ProblemNotFound, c == ContestNotFound, c == SubmissionNotFound, c == RecordNotFound:
		return 404
	case c == VerdictAlreadyRecorded, c == RecordAlreadyExists:
		return 409
	case c == CodeTooLarge:
		return 413
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == JudgeQueueClosed:
		return 503
	case c >= 10300 && c < 10400:
		return 400
	case c == InvalidParams, c == LanguageNotSupported, c == NoSampleTestCase:
		return 400
	default:
		return 500
	}
}
