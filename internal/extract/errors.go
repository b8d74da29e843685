package extract

import (
	"errors"
	"fmt"
)

// Kind classifies an extraction failure. Transient and blocked failures are
// retried with backoff; missing-field and unexpected-layout failures are
// deterministic for the current page shape and are skipped instead.
type Kind int

const (
	KindTransient Kind = iota
	KindBlocked
	KindUnexpectedLayout
	KindMissingField
)

func (k Kind) String() string {
	switch k {
	case KindBlocked:
		return "blocked"
	case KindUnexpectedLayout:
		return "unexpected_layout"
	case KindMissingField:
		return "missing_field"
	default:
		return "transient"
	}
}

type Error struct {
	Kind  Kind
	URL   string
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("extract %s: %s", e.Kind, e.URL)
	if e.Field != "" {
		msg += " field " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(url string, err error) *Error {
	return &Error{Kind: KindTransient, URL: url, Err: err}
}

func Blocked(url string) *Error {
	return &Error{Kind: KindBlocked, URL: url}
}

func MissingField(url, field string) *Error {
	return &Error{Kind: KindMissingField, URL: url, Field: field}
}

func UnexpectedLayout(url string, err error) *Error {
	return &Error{Kind: KindUnexpectedLayout, URL: url, Err: err}
}

// KindOf maps any error onto the failure taxonomy. Errors that did not come
// out of an extractor (timeouts, connection resets) count as transient.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindTransient
}

// IsBlocked reports whether err is a blocked/captcha failure.
func IsBlocked(err error) bool {
	return KindOf(err) == KindBlocked
}

// IsPermanent reports whether err should be skipped rather than retried.
func IsPermanent(err error) bool {
	k := KindOf(err)
	return k == KindMissingField || k == KindUnexpectedLayout
}
