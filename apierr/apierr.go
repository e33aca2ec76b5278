// Package apierr tags errors from external providers with a coarse kind so
// callers can branch on the kind instead of on message text.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindQuotaExhausted
	KindPlatformLimit
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindPlatformLimit:
		return "platform_limit"
	case KindValidation:
		return "validation_failed"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind   Kind
	Status int // HTTP status, if known
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// FromResponse classifies a failed provider HTTP response. The substring
// rules live here and nowhere else.
func FromResponse(status int, body string) *Error {
	kind := KindUnknown
	switch {
	case status == 429:
		kind = KindRateLimited
	case strings.Contains(body, "RESOURCE_EXHAUSTED"),
		strings.Contains(body, "Quota"),
		strings.Contains(body, "429"):
		kind = KindQuotaExhausted
	}
	return &Error{Kind: kind, Status: status, Msg: fmt.Sprintf("provider returned %d: %s", status, truncate(body, 200))}
}

// FromUploadMessage classifies an upload API failure message. A daily-limit
// or quota response means the platform ceiling was hit for the day, not a
// failure of this particular file.
func FromUploadMessage(msg string) *Error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "daily limit reached") || strings.Contains(lower, "quota") {
		return &Error{Kind: KindPlatformLimit, Msg: msg}
	}
	return &Error{Kind: KindUnknown, Msg: msg}
}

// KindOf walks the error chain and returns the first tagged kind.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

func IsRateLimited(err error) bool    { return KindOf(err) == KindRateLimited }
func IsQuotaExhausted(err error) bool { return KindOf(err) == KindQuotaExhausted }
func IsPlatformLimit(err error) bool  { return KindOf(err) == KindPlatformLimit }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
