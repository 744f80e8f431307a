package errormapper

const (
	// Precondition Failures (refuse to start a dispatch run)
	ErrorCodeInvalidSenderID   = "INVALID_SENDER"
	ErrorCodeEmptyMessage      = "EMPTY_MESSAGE"
	ErrorCodeNoRecipients      = "NO_RECIPIENTS"
	ErrorCodeInsufficientFunds = "INSUF_FUNDS"
	ErrorCodeRunInProgress     = "RUN_IN_PROGRESS"

	// Compose Failures
	ErrorCodeNeedsNewSegment = "NEEDS_NEW_SEGMENT"
	ErrorCodeSegmentLimit    = "SEGMENT_LIMIT"
	ErrorCodeValidation      = "VALIDATION_FAIL" // Generic request validation failure

	// Ingestion Failures
	ErrorCodeIngestion     = "INGESTION_FAIL"
	ErrorCodeNoPhoneColumn = "NO_PHONE_COLUMN"
	ErrorCodeInvalidMSISDN = "INVALID_MSISDN"

	// Gateway Failures
	ErrorCodeGatewayUnavailable = "GATEWAY_UNAVAILABLE" // Circuit open or cannot connect
	ErrorCodeGatewayReject      = "GATEWAY_REJECT"      // Non-2xx from the send API

	// System Errors
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeSystemError   = "SYS_ERR"
	ErrorCodeDatabaseError = "DB_ERR"
	ErrorCodeCacheError    = "CACHE_ERR"
)
