package ota

import (
	"errors"

	"github.com/avaropoint/espota/internal/registry"
)

// Kind classifies a rejection so the transport layer can map it.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotFound
	KindUnauthorized
	KindConflict
	KindPersistence
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified rejection. Two errors match under errors.Is when
// they share kind and reason, so wrapped detail does not break comparisons
// against the sentinels below.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Reason == e.Reason
}

// with returns a copy of e carrying err as detail.
func (e *Error) with(err error) *Error {
	return &Error{Kind: e.Kind, Reason: e.Reason, Err: err}
}

var (
	ErrInvalidParameters   = &Error{Kind: KindInvalidInput, Reason: "invalid parameters"}
	ErrNoPlatforms         = &Error{Kind: KindUnavailable, Reason: "no platforms configured"}
	ErrUnknownPlatform     = &Error{Kind: KindNotFound, Reason: "unknown platform"}
	ErrNotAuthorized       = &Error{Kind: KindUnauthorized, Reason: "not authorized"}
	ErrBinaryMissing       = &Error{Kind: KindNotFound, Reason: "binary not found"}
	ErrVersionNotIncreased = &Error{Kind: KindConflict, Reason: "version must increase"}
	ErrNoPlatformInBlob    = &Error{Kind: KindInvalidInput, Reason: "no known platform name found"}
	ErrNoVersionInBlob     = &Error{Kind: KindInvalidInput, Reason: "no version found"}
	ErrEmptyBlob           = &Error{Kind: KindInvalidInput, Reason: "empty firmware image"}
	ErrAddressMalformed    = &Error{Kind: KindInvalidInput, Reason: "address malformed"}
	ErrAddressListed       = &Error{Kind: KindConflict, Reason: "address already listed"}
	ErrAddressNotListed    = &Error{Kind: KindNotFound, Reason: "address not listed"}
	ErrInvalidName         = &Error{Kind: KindInvalidInput, Reason: "invalid platform name"}
	ErrPlatformExists      = &Error{Kind: KindConflict, Reason: "platform already exists"}
	ErrPersistence         = &Error{Kind: KindPersistence, Reason: "persistence failure"}
)

// KindOf classifies err. Registry load and save failures are persistence
// failures; anything unclassified is KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var se *registry.StoreError
	if errors.As(err, &se) {
		return KindPersistence
	}
	return KindUnknown
}

// classify converts registry failures into persistence errors and leaves
// everything else unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var se *registry.StoreError
	if errors.As(err, &se) {
		return ErrPersistence.with(err)
	}
	return err
}
