package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies capture-path and post-processing failures.
type Kind string

// Failure kinds.
const (
	KindTimeout                 Kind = "timeout"
	KindBrowserCrash            Kind = "browser_crash"
	KindNavigation              Kind = "navigation_error"
	KindWrite                   Kind = "write_error"
	KindEncode                  Kind = "encode_error"
	KindPermissionNormalization Kind = "permission_normalization_error"
	kindUnknown                 Kind = "unknown"
)

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrTimeout                 = &Error{Kind: KindTimeout}
	ErrBrowserCrash            = &Error{Kind: KindBrowserCrash}
	ErrNavigation              = &Error{Kind: KindNavigation}
	ErrWrite                   = &Error{Kind: KindWrite}
	ErrEncode                  = &Error{Kind: KindEncode}
	ErrPermissionNormalization = &Error{Kind: KindPermissionNormalization}
)

// ErrInvalidRequest is returned before any attempt when inputs are malformed.
var ErrInvalidRequest = errors.New("invalid capture request")

// Error is the structured failure of an attempt or post-processing step.
type Error struct {
	Kind     Kind
	Strategy string
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Strategy != "" {
		b.WriteString(" (")
		b.WriteString(e.Strategy)
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind so callers can write errors.Is(err, capture.ErrTimeout).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Cause == nil && other.Strategy == "" && other.Kind == e.Kind
}

// NewError wraps cause with a kind.
func NewError(kind Kind, strategy string, cause error) *Error {
	return &Error{Kind: kind, Strategy: strategy, Cause: cause}
}

// KindOf returns the kind of err, or "" if it is not a *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// navigationMarkers are substrings Chrome uses for network-level failures.
var navigationMarkers = []string{
	"net::err_",
	"err_name_not_resolved",
	"err_connection",
	"err_cert",
	"err_ssl",
	"err_address_unreachable",
	"err_tunnel",
	"http status",
}

// crashMarkers indicate the browser process or its websocket went away.
var crashMarkers = []string{
	"websocket",
	"target closed",
	"browser closed",
	"invalid context",
	"exec:",
	"executable file not found",
	"chrome failed to start",
	"could not dial",
	"unexpected eof",
}

// Classify maps a raw driver error to a *Error. Errors that are already
// classified keep their kind; only the strategy is filled in.
func Classify(strategy string, err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Strategy == "" {
			return &Error{Kind: ce.Kind, Strategy: strategy, Cause: ce.Cause}
		}
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, strategy, err)
	}
	msg := strings.ToLower(err.Error())
	for _, m := range navigationMarkers {
		if strings.Contains(msg, m) {
			return NewError(KindNavigation, strategy, err)
		}
	}
	for _, m := range crashMarkers {
		if strings.Contains(msg, m) {
			return NewError(KindBrowserCrash, strategy, err)
		}
	}
	return NewError(KindBrowserCrash, strategy, fmt.Errorf("%s: %w", kindUnknown, err))
}
