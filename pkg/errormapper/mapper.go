package errormapper

import (
	"log/slog"
	"net/http"
	"strings"
)

// Basic map for internal codes to HTTP statuses returned by the compose API.
var internalToHTTP = map[string]int{
	ErrorCodeInvalidSenderID:    http.StatusBadRequest,
	ErrorCodeEmptyMessage:       http.StatusBadRequest,
	ErrorCodeNoRecipients:       http.StatusBadRequest,
	ErrorCodeInsufficientFunds:  http.StatusPaymentRequired, // Fits semantically
	ErrorCodeRunInProgress:      http.StatusConflict,
	ErrorCodeNeedsNewSegment:    http.StatusUnprocessableEntity,
	ErrorCodeSegmentLimit:       http.StatusUnprocessableEntity,
	ErrorCodeValidation:         http.StatusBadRequest,
	ErrorCodeIngestion:          http.StatusUnprocessableEntity,
	ErrorCodeNoPhoneColumn:      http.StatusUnprocessableEntity,
	ErrorCodeInvalidMSISDN:      http.StatusBadRequest,
	ErrorCodeGatewayUnavailable: http.StatusBadGateway,
	ErrorCodeGatewayReject:      http.StatusBadGateway,
	ErrorCodeNotFound:           http.StatusNotFound,
	ErrorCodeSystemError:        http.StatusInternalServerError,
	ErrorCodeDatabaseError:      http.StatusInternalServerError,
	ErrorCodeCacheError:         http.StatusInternalServerError,
}

var internalToMessage = map[string]string{
	ErrorCodeInvalidSenderID:   "Sender ID must be 3-11 alphanumeric characters",
	ErrorCodeEmptyMessage:      "Message is empty",
	ErrorCodeNoRecipients:      "No eligible recipients selected",
	ErrorCodeInsufficientFunds: "Insufficient wallet balance for this send",
	ErrorCodeRunInProgress:     "A dispatch run is already active for this session",
	ErrorCodeNeedsNewSegment:   "Draft exceeds the segment limit, commit a segment first",
	ErrorCodeSegmentLimit:      "Maximum number of segments reached",
}

// HTTPStatus translates an internal error code to the HTTP status the API responds with.
func HTTPStatus(internalCode string) int {
	internalCode = strings.ToUpper(internalCode) // Normalize internal code

	if status, ok := internalToHTTP[internalCode]; ok {
		return status
	}

	slog.Debug("No specific mapping found for error code, returning default",
		slog.String("internal_code", internalCode),
		slog.Int("default_status", http.StatusInternalServerError),
	)
	return http.StatusInternalServerError
}

// Message returns an operator-facing description for a code, falling back to the code itself.
func Message(internalCode string) string {
	if msg, ok := internalToMessage[strings.ToUpper(internalCode)]; ok {
		return msg
	}
	return internalCode
}
