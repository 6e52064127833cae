package feed

import (
	"errors"
	"fmt"
)

// ErrorKind classifies source failures for the retry policy.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindChallenge
	KindAPI
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindChallenge:
		return "challenge"
	case KindAPI:
		return "api"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified source error.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks err as a network-level failure worth retrying.
func Transient(err error) error { return &Error{Kind: KindTransient, Err: err} }

// Challenge marks err as a verification challenge (captcha and alike).
func Challenge(err error) error { return &Error{Kind: KindChallenge, Err: err} }

// APIError marks err as a remote API fault such as rate limiting.
func APIError(err error) error { return &Error{Kind: KindAPI, Err: err} }

// Fatal marks err as non-recoverable for the current check (authorization).
func Fatal(err error) error { return &Error{Kind: KindFatal, Err: err} }

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
