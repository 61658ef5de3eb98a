package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/opsledger/internal/audit/domain"
	"github.com/smallbiznis/opsledger/internal/authorization"
	custodydomain "github.com/smallbiznis/opsledger/internal/custody/domain"
	expensedomain "github.com/smallbiznis/opsledger/internal/expense/domain"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	"github.com/smallbiznis/opsledger/internal/ledgererr"
	orderdomain "github.com/smallbiznis/opsledger/internal/order/domain"
	payabledomain "github.com/smallbiznis/opsledger/internal/payable/domain"
	"github.com/smallbiznis/opsledger/internal/period"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = ledgererr.ErrForbidden
	ErrNotFound       = ledgererr.ErrNotFound
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	// the saga leaves a debit without its payment; surface it loudly
	if errors.Is(err, payabledomain.ErrCompensationFailed) {
		return http.StatusInternalServerError, errorPayload{
			Type:    "compensation_failed",
			Message: "payment failed and its debit could not be reversed",
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	}

	switch kind := ledgererr.KindOf(err); kind {
	case ledgererr.KindForbidden:
		return http.StatusForbidden, errorPayload{Type: string(kind), Message: "forbidden"}
	case ledgererr.KindNotFound:
		return http.StatusNotFound, errorPayload{Type: string(kind), Message: "not found"}
	case ledgererr.KindInvalidAmount,
		ledgererr.KindInsufficientBalance,
		ledgererr.KindInsufficientRemaining,
		ledgererr.KindInvalidState:
		return http.StatusUnprocessableEntity, errorPayload{Type: string(kind), Message: businessMessage(err)}
	case ledgererr.KindConcurrentModification:
		return http.StatusConflict, errorPayload{Type: string(kind), Message: "concurrent modification, retry the request"}
	case ledgererr.KindPersistenceFailure:
		return http.StatusServiceUnavailable, errorPayload{Type: string(kind), Message: "service unavailable"}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// businessMessage keeps the domain's own wording, which never carries
// persistence detail.
func businessMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return strings.ReplaceAll(msg, "_", " ")
}

func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server", payload.Type
	default:
		return "client", payload.Type
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationErrors = []error{
	ErrInvalidRequest,
	ledgerdomain.ErrInvalidAccount,
	ledgerdomain.ErrInvalidReason,
	ledgerdomain.ErrInvalidRole,
	ledgerdomain.ErrInvalidDisplayName,
	ledgerdomain.ErrInvalidPageToken,
	custodydomain.ErrInvalidDescription,
	expensedomain.ErrInvalidDescription,
	expensedomain.ErrInvalidCategory,
	expensedomain.ErrInvalidType,
	expensedomain.ErrInvalidRejectionReason,
	expensedomain.ErrInvalidPeriod,
	payabledomain.ErrInvalidSupplier,
	payabledomain.ErrInvalidDescription,
	payabledomain.ErrInvalidEntry,
	orderdomain.ErrInvalidRange,
	orderdomain.ErrInvalidCancelReason,
	orderdomain.ErrInvalidFeeBearer,
	period.ErrUnknownPeriod,
	period.ErrInvalidRange,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
	authorization.ErrInvalidObject,
	authorization.ErrInvalidAction,
}

func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func validationErrorCode(err error) string {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	if code == "unknown_period" {
		return "period"
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "unknown_period":
		return "unknown period"
	default:
		return "invalid value"
	}
}
