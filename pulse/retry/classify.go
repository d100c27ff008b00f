package retry

import (
	"context"
	"net"
	"strings"

	"github.com/teranos/easyjob/errors"
)

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeNetworkError    ErrorCode = "network_error"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodeServerError     ErrorCode = "server_error"
	ErrorCodeRateLimited     ErrorCode = "rate_limited"
	ErrorCodeClientError     ErrorCode = "client_error"
	ErrorCodeParseError      ErrorCode = "parse_error"
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeFileNotFound    ErrorCode = "file_not_found"
	ErrorCodeCanceled        ErrorCode = "canceled"
	ErrorCodePermanent       ErrorCode = "permanent"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ErrPermanent marks an error that must never be retried.
var ErrPermanent = errors.New("permanent failure")

// Permanent marks err as not retryable regardless of its message.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrPermanent)
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// Classification is the verdict on one failure.
type Classification struct {
	Code      ErrorCode
	Message   string
	Retryable bool
}

// Classify categorizes an error. Structured signals (marks, context errors,
// HTTP status, net.Error) win over message patterns. Anything unrecognised
// is not retried.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	c := Classification{Message: err.Error()}

	var status StatusCoder
	var netErr net.Error

	switch {
	case errors.Is(err, ErrPermanent):
		c.Code = ErrorCodePermanent

	case errors.Is(err, context.Canceled):
		c.Code = ErrorCodeCanceled

	case errors.Is(err, context.DeadlineExceeded):
		c.Code, c.Retryable = ErrorCodeTimeout, true

	case errors.As(err, &status):
		code := status.StatusCode()
		switch {
		case code == 429:
			c.Code, c.Retryable = ErrorCodeRateLimited, true
		case code >= 500:
			c.Code, c.Retryable = ErrorCodeServerError, true
		default:
			c.Code = ErrorCodeClientError
		}

	case errors.As(err, &netErr):
		if netErr.Timeout() {
			c.Code, c.Retryable = ErrorCodeTimeout, true
		} else {
			c.Code, c.Retryable = ErrorCodeNetworkError, true
		}

	default:
		c.Code, c.Retryable = classifyMessage(strings.ToLower(c.Message))
	}

	return c
}

// IsRetryable is Classify(err).Retryable.
func IsRetryable(err error) bool {
	return Classify(err).Retryable
}

func classifyMessage(msg string) (ErrorCode, bool) {
	switch {
	case strings.Contains(msg, "no such file") || strings.Contains(msg, "file not found"):
		return ErrorCodeFileNotFound, false

	case strings.Contains(msg, "parse") || strings.Contains(msg, "unmarshal") || strings.Contains(msg, "invalid json"):
		return ErrorCodeParseError, false

	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout"):
		return ErrorCodeTimeout, true

	case strings.Contains(msg, "network") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "eof") || strings.Contains(msg, "no such host"):
		return ErrorCodeNetworkError, true

	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid"):
		return ErrorCodeValidationError, false

	default:
		return ErrorCodeUnknown, false
	}
}
