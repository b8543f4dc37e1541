package broker

import (
	"net/http"
	"strings"

	"github.com/aristath/sentinel/internal/domain"
)

// ApiResponse is the mandatory envelope for every Gateway operation.
// success == true iff the broker returned a documented success status;
// callers must inspect both Success and ErrorKind — a non-nil Data
// without Success is never a valid success indicator.
type ApiResponse[T any] struct {
	Success      bool
	StatusCode   int
	Data         T
	ErrorKind    domain.ErrorKind
	ErrorMessage string
	Retryable    bool
}

func ok[T any](status int, data T) ApiResponse[T] {
	return ApiResponse[T]{Success: true, StatusCode: status, Data: data}
}

func fail[T any](status int, kind domain.ErrorKind, msg string, retryable bool) ApiResponse[T] {
	return ApiResponse[T]{
		Success:      false,
		StatusCode:   status,
		ErrorKind:    kind,
		ErrorMessage: msg,
		Retryable:    retryable,
	}
}

// classification is the outcome of applying the response classification
// rules to a single HTTP round trip, before the payload has
// been decoded into its typed shape.
type classification struct {
	success   bool
	kind      domain.ErrorKind
	retryable bool
	message   string
}

// classify applies the Broker Gateway's response classification rules
// to an HTTP status code and body. pdtErrorCode/qtyHeldPhrase let the
// caller identify broker-specific failure markers embedded in the body.
func classify(statusCode int, body []byte, pdtErrorCode string, qtyHeldPhrase string) classification {
	bodyStr := string(body)

	switch {
	case statusCode == http.StatusCreated:
		// Rule 2: HTTP 201 on order submission is success, not an error.
		return classification{success: true}
	case statusCode == http.StatusNoContent:
		// Rule 3: HTTP 204 on cancellation is success.
		return classification{success: true}
	case statusCode >= 200 && statusCode < 300:
		// Rule 1: HTTP 2xx with a body is success.
		return classification{success: true}
	case statusCode == http.StatusForbidden && pdtErrorCode != "" && strings.Contains(bodyStr, pdtErrorCode):
		// Rule 4: PDT rejection.
		return classification{
			success:   false,
			kind:      domain.ErrPDTViolation,
			retryable: false,
			message:   "broker rejected order under pattern-day-trader rules",
		}
	case statusCode == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(bodyStr), strings.ToLower(qtyHeldOr(qtyHeldPhrase))):
		// Rule 5: insufficient quantity available — caller must cancel
		// competing orders first.
		return classification{
			success:   false,
			kind:      domain.ErrQtyHeld,
			retryable: true,
			message:   "insufficient qty available",
		}
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		// Rule 6: retry up to the configured bound with backoff.
		return classification{
			success:   false,
			kind:      domain.ErrRateLimited,
			retryable: true,
			message:   "broker returned " + http.StatusText(statusCode),
		}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return classification{
			success:   false,
			kind:      domain.ErrAuth,
			retryable: false,
			message:   "broker rejected credentials",
		}
	default:
		// Rule 7: everything else.
		return classification{
			success:   false,
			kind:      domain.ErrOther,
			retryable: false,
			message:   "unexpected broker response: " + http.StatusText(statusCode),
		}
	}
}

func qtyHeldOr(phrase string) string {
	if phrase == "" {
		return "insufficient qty available"
	}
	return phrase
}
