// Package btcerr defines the error taxonomy surfaced by the core packages.
//
// The teacher's Vault handlers split errors into two tiers: validation failures
// returned as logical.ErrorResponse strings, and transport/programming failures
// returned as fmt.Errorf-wrapped errors. This package generalizes that split into a
// single typed error so library callers can branch on Kind with errors.As while
// fmt.Errorf("...: %w", err) still composes normally.
package btcerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories named in the error handling design.
type Kind string

const (
	KindInvalidAmount      Kind = "InvalidAmount"
	KindEmptyAmount        Kind = "EmptyAmount"
	KindNegativeAmount     Kind = "NegativeAmount"
	KindInvalidFormat      Kind = "InvalidFormat"
	KindInvalidInputSpec   Kind = "InvalidInputSpec"
	KindInputNotFound      Kind = "InputNotFound"
	KindInsufficientFunds  Kind = "InsufficientFunds"
	KindFeePolicyConflict  Kind = "FeePolicyConflict"
	KindBackendUnavailable Kind = "BackendUnavailable"
	KindBackendError       Kind = "BackendError"
	KindUserCancelled      Kind = "UserCancelled"
	KindDeviceLocked       Kind = "DeviceLocked"
	KindNetworkMismatch    Kind = "NetworkMismatch"
	KindInvalidResponse    Kind = "InvalidResponse"
	KindTimeout            Kind = "Timeout"
	KindInvalidPsbt        Kind = "InvalidPsbt"
	KindInvalidInvite      Kind = "InvalidInvite"
)

// Error is a typed error carrying one of the Kind values above plus a human message
// and an optional wrapped cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, btcerr.New(kind, "")) to match on Kind alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an Error of the given kind, wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Of returns a sentinel of the given kind, useful as a target for errors.Is.
func Of(kind Kind) *Error { return &Error{Kind: kind} }
