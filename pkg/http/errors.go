package http

import (
	"errors"
	"fmt"
)

// ErrorKind classifies protocol and connection failures.
type ErrorKind uint8

const (
	KindMalformedStartLine ErrorKind = iota + 1
	KindMalformedHeader
	KindHeaderLimitExceeded
	KindLineTooLong
	KindConflictingFraming
	KindInvalidChunkSize
	KindBodyTooLarge
	KindTimeout
	KindTransport
	KindMisuse
)

var kindNames = [...]string{
	KindMalformedStartLine:  "malformed start line",
	KindMalformedHeader:     "malformed header",
	KindHeaderLimitExceeded: "header limit exceeded",
	KindLineTooLong:         "line too long",
	KindConflictingFraming:  "conflicting framing",
	KindInvalidChunkSize:    "invalid chunk size",
	KindBodyTooLarge:        "body too large",
	KindTimeout:             "timeout",
	KindTransport:           "transport error",
	KindMisuse:              "programming misuse",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// StatusCode is the response status synthesized for the kind, or 0 when the
// kind is never answered.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindMalformedStartLine, KindMalformedHeader, KindConflictingFraming, KindInvalidChunkSize:
		return 400
	case KindHeaderLimitExceeded, KindLineTooLong:
		return 431
	case KindBodyTooLarge:
		return 413
	case KindTimeout:
		return 408
	default:
		return 0
	}
}

// Error is a protocol or connection failure.
type Error struct {
	Kind    ErrorKind
	Message string // human-readable detail
	Status  int    // overrides Kind.StatusCode when non-zero
	Err     error  // underlying cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "http: " + e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the per-kind sentinels, so errors.Is(err, ErrMalformedHeader)
// holds for every malformed-header failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Status == 0 && t.Kind == e.Kind
}

// StatusCode is the status of the error response, or 0 if none is sent.
func (e *Error) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.StatusCode()
}

// Sentinels for errors.Is.
var (
	ErrMalformedStartLine  = &Error{Kind: KindMalformedStartLine}
	ErrMalformedHeader     = &Error{Kind: KindMalformedHeader}
	ErrHeaderLimitExceeded = &Error{Kind: KindHeaderLimitExceeded}
	ErrLineTooLong         = &Error{Kind: KindLineTooLong}
	ErrConflictingFraming  = &Error{Kind: KindConflictingFraming}
	ErrInvalidChunkSize    = &Error{Kind: KindInvalidChunkSize}
	ErrBodyTooLarge        = &Error{Kind: KindBodyTooLarge}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrTransport           = &Error{Kind: KindTransport}
	ErrMisuse              = &Error{Kind: KindMisuse}
)

// Errors reported by the body APIs.
var (
	ErrBodyNotAllowed = errors.New("http: response status does not allow a body")
	ErrContentLength  = errors.New("http: body length does not match Content-Length")
	ErrPayloadClosed  = errors.New("http: payload closed")
	ErrBodyAbandoned  = errors.New("http: request body abandoned")
	ErrBufferFull     = errors.New("http: buffer ceiling reached")
	ErrServerClosed   = errors.New("http: server closed")
	ErrConnClosed     = errors.New("http: connection closed")
)

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// misuse panics: calling the encoder out of sequence is a defect in the
// caller, not a peer error.
func misuse(msg string) {
	panic(&Error{Kind: KindMisuse, Message: msg})
}
