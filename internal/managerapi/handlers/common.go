package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/thrillee/aegisbulk/internal/compose"
	"github.com/thrillee/aegisbulk/internal/contact"
	"github.com/thrillee/aegisbulk/internal/dispatch"
	"github.com/thrillee/aegisbulk/internal/gateway"
	"github.com/thrillee/aegisbulk/internal/history"
	"github.com/thrillee/aegisbulk/internal/session"
	"github.com/thrillee/aegisbulk/pkg/errormapper"
)

const (
	DefaultLimit  = 20
	MaxLimit      = 100
	DefaultOffset = 0
)

// parsePagination extracts limit and offset from query params with validation and defaults.
func parsePagination(c *gin.Context) (limit, offset int32) {
	limitStr := c.DefaultQuery("limit", strconv.Itoa(DefaultLimit))
	offsetStr := c.DefaultQuery("offset", strconv.Itoa(DefaultOffset))

	limit64, err := strconv.ParseInt(limitStr, 10, 32)
	if err != nil || limit64 <= 0 {
		limit = DefaultLimit
	} else if limit64 > MaxLimit {
		slog.WarnContext(c.Request.Context(), "Requested limit exceeds maximum, capping.", slog.Int64("requested", limit64), slog.Int("max", MaxLimit))
		limit = MaxLimit
	} else {
		limit = int32(limit64)
	}

	offset64, err := strconv.ParseInt(offsetStr, 10, 32)
	if err != nil || offset64 < 0 {
		offset = DefaultOffset
	} else {
		offset = int32(offset64)
	}

	return limit, offset
}

// errorCode maps a domain error to an internal error code.
func errorCode(err error) string {
	var pe *dispatch.PreconditionError
	var apiErr *gateway.APIError
	switch {
	case errors.As(err, &pe):
		return pe.Code
	case errors.Is(err, session.ErrRunInProgress):
		return errormapper.ErrorCodeRunInProgress
	case errors.Is(err, compose.ErrNeedsNewSegment):
		return errormapper.ErrorCodeNeedsNewSegment
	case errors.Is(err, compose.ErrSegmentLimit):
		return errormapper.ErrorCodeSegmentLimit
	case errors.Is(err, contact.ErrNoPhoneColumn):
		return errormapper.ErrorCodeNoPhoneColumn
	case errors.Is(err, contact.ErrEmptyInput):
		return errormapper.ErrorCodeIngestion
	case errors.Is(err, compose.ErrEmptyDraft),
		errors.Is(err, session.ErrInvalidMode),
		errors.Is(err, session.ErrNoFailedUnits),
		errors.Is(err, errUploadTooLarge):
		return errormapper.ErrorCodeValidation
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrUnknownBatch),
		errors.Is(err, compose.ErrNoSuchSegment),
		errors.Is(err, history.ErrRunNotFound),
		errors.Is(err, errTemplateNotFound):
		return errormapper.ErrorCodeNotFound
	case errors.Is(err, gateway.ErrCircuitOpen), errors.Is(err, gateway.ErrNotConnected):
		return errormapper.ErrorCodeGatewayUnavailable
	case errors.As(err, &apiErr):
		return errormapper.ErrorCodeGatewayReject
	}
	return errormapper.ErrorCodeSystemError
}

// respondError writes a JSON error with the status mapped from err.
func respondError(c *gin.Context, logCtx context.Context, err error) {
	code := errorCode(err)
	status := errormapper.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(logCtx, "Request failed", slog.String("code", code), slog.Any("error", err))
	} else {
		slog.WarnContext(logCtx, "Request refused", slog.String("code", code), slog.Any("error", err))
	}

	msg := errormapper.Message(code)
	if msg == code {
		if status >= http.StatusInternalServerError {
			msg = http.StatusText(status)
		} else {
			msg = err.Error()
		}
	}
	c.JSON(status, gin.H{"code": code, "error": msg})
}
