package intent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error codes as constants
const (
	ErrCodeNetwork     = "NETWORK_ERROR"
	ErrCodeProtocol    = "PROTOCOL_ERROR"
	ErrCodeJSONParse   = "JSON_PARSE_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeCanceled    = "CANCELED"
	ErrCodeTimeout     = "TIMEOUT_ERROR"
	ErrCodeUnsupported = "UNSUPPORTED_REQUEST"
	ErrCodeBadRequest  = "BAD_REQUEST"
	ErrCodeTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrCodeAuthFailed  = "AUTH_FAILED"
	ErrCodeUnknown     = "UNKNOWN_ERROR"
)

// Error is a recognition failure carrying a code and optional details.
// Timeout errors match ErrCanceled through errors.Is since a timeout is
// a cancellation fired by the idle timer.
type Error struct {
	Code    string
	Message string
	Details map[string]interface{}
	err     error
}

var (
	ErrCanceled    = &Error{Code: ErrCodeCanceled, Message: "recognition canceled"}
	ErrTimeout     = &Error{Code: ErrCodeTimeout, Message: "recognition timed out"}
	ErrNotFound    = &Error{Code: ErrCodeNotFound, Message: "no recognizable content"}
	ErrUnsupported = &Error{Code: ErrCodeUnsupported, Message: "unsupported request"}
)

func NewError(message, code string) *Error {
	return &Error{Message: message, Code: code}
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.err.Error())
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Details[k])
		}
		sb.WriteString(")")
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code == ErrCodeCanceled && e.Code == ErrCodeTimeout
}

// AddDetail attaches a detail to the error
func (e *Error) AddDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetDetail returns a detail previously attached
func (e *Error) GetDetail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	value, exists := e.Details[key]
	return value, exists
}

// WrapError wraps any error with the given code, keeping it reachable by errors.Is/As
func WrapError(err error, message, code string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Message: message, Code: code, err: err}
}

// Specific error creators with common codes
func NewNetworkError(op string, err error) *Error {
	return WrapError(err, "network failure", ErrCodeNetwork).AddDetail("op", op)
}

func NewProtocolError(message string) *Error {
	return NewError(message, ErrCodeProtocol)
}

func NewParseError(err error) *Error {
	return WrapError(err, "malformed backend response", ErrCodeJSONParse)
}

func NewBadRequestError(message string) *Error {
	return NewError(message, ErrCodeBadRequest)
}

func NewAuthError(message string) *Error {
	return NewError(message, ErrCodeAuthFailed)
}

func NewTooLargeError(limit int64) *Error {
	return NewError("request body too large", ErrCodeTooLarge).AddDetail("limit", limit)
}

func NewUnknownError(err error) *Error {
	return WrapError(err, "internal failure", ErrCodeUnknown)
}

// Code returns the error code of err, or ErrCodeUnknown for foreign errors
func Code(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeUnknown
}

// IsCanceled reports a cancellation, including timeouts
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// IsTimeout reports a cancellation caused by the idle timer
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsRetryableError tells whether repeating the request may succeed
func IsRetryableError(err error) bool {
	switch Code(err) {
	case ErrCodeNetwork, ErrCodeTimeout:
		return true
	}
	return false
}

// IsCriticalError tells whether the failure comes from configuration rather than the request
func IsCriticalError(err error) bool {
	switch Code(err) {
	case ErrCodeAuthFailed:
		return true
	}
	return false
}
