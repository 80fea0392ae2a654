package scans

import (
	"fmt"
	"time"
)

// ErrorKind — таксономия ошибок ядра; маппинг на HTTP-статусы живёт в API-слое.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindAuth        ErrorKind = "auth"
	KindRateLimited ErrorKind = "rate_limited"
	KindDuplicate   ErrorKind = "duplicate"
	KindConflict    ErrorKind = "conflict"
	KindNotFound    ErrorKind = "not_found"
	KindRecording   ErrorKind = "recording_failed"
)

type Error struct {
	Kind ErrorKind
	Msg  string

	// RetryAfter заполняется для KindRateLimited.
	RetryAfter time.Duration
	// PriorScanID заполняется для KindDuplicate и KindConflict.
	PriorScanID uint64
	// SyncKey эхом возвращается клиенту, если он его прислал.
	SyncKey string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// authError намеренно одинакова для "нет такого устройства" и "неверный токен".
func authError() *Error {
	return &Error{Kind: KindAuth, Msg: "invalid device credentials"}
}

func rateLimitedError(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Msg: "too many requests", RetryAfter: retryAfter}
}

func duplicateError(priorScanID uint64) *Error {
	return &Error{Kind: KindDuplicate, Msg: "duplicate scan", PriorScanID: priorScanID}
}

func conflictError(priorScanID uint64) *Error {
	return &Error{Kind: KindConflict, Msg: "recent scan from another source", PriorScanID: priorScanID}
}

func notFoundError(what string) *Error {
	return &Error{Kind: KindNotFound, Msg: what + " not found"}
}

func recordingError(cause error) *Error {
	return &Error{Kind: KindRecording, Msg: "recording failed", cause: cause}
}

// KindOf достаёт вид ошибки; прочие ошибки считаются сбоем записи.
func KindOf(err error) ErrorKind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindRecording
}

func AsError(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
