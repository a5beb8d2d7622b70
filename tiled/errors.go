package tiled

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error so callers at the request boundary can pick a status
// without inspecting messages.
type Kind uint8

const (
	Unexpected Kind = iota
	MalformedRegion
	MalformedSize
	UnresolvableIdentifier
	NotFound
	FetchFailed
	ConvertFailed
	UnsupportedFormat
	CacheIOError
	CodecFormat
	CodecIO
	CodecTimeout
)

var kindNames = map[Kind]string{
	Unexpected:             "unexpected error",
	MalformedRegion:        "malformed region",
	MalformedSize:          "malformed size",
	UnresolvableIdentifier: "unresolvable identifier",
	NotFound:               "not found",
	FetchFailed:            "fetch failed",
	ConvertFailed:          "convert failed",
	UnsupportedFormat:      "unsupported format",
	CacheIOError:           "cache i/o error",
	CodecFormat:            "codec format error",
	CodecIO:                "codec i/o error",
	CodecTimeout:           "codec timeout",
}

func (k Kind) String() string {
	if s, found := kindNames[k]; found {
		return s
	}
	return fmt.Sprintf("unknown error kind %d", k)
}

// Error is a classified error with an optional underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Errors with only a Kind set act as sentinels for errors.Is.
var (
	ErrMalformedRegion        = &Error{Kind: MalformedRegion}
	ErrMalformedSize          = &Error{Kind: MalformedSize}
	ErrUnresolvableIdentifier = &Error{Kind: UnresolvableIdentifier}
	ErrNotFound               = &Error{Kind: NotFound}
	ErrFetchFailed            = &Error{Kind: FetchFailed}
	ErrConvertFailed          = &Error{Kind: ConvertFailed}
	ErrUnsupportedFormat      = &Error{Kind: UnsupportedFormat}
	ErrCacheIO                = &Error{Kind: CacheIOError}
	ErrCodecFormat            = &Error{Kind: CodecFormat}
	ErrCodecIO                = &Error{Kind: CodecIO}
	ErrCodecTimeout           = &Error{Kind: CodecTimeout}
)

// NewError returns a classified error with a formatted message.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError classifies err, keeping it available through errors.Unwrap.
func WrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return e.Kind.String()
	case e.Msg == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Err == nil:
		return e.Msg
	default:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the Err* sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// KindOf returns the Kind of the first classified error in err's chain.  Context
// deadlines map to CodecTimeout and anything unclassified is Unexpected.
func KindOf(err error) Kind {
	if err == nil {
		return Unexpected
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodecTimeout
	}
	return Unexpected
}
