// Package domain holds the shared interfaces and value types consumed by
// the cmif, htclow and pm packages.
package domain

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind enumerates the error taxonomy of the framework. Every
// error the framework returns across a package boundary carries one of
// these, so callers can switch on Kind instead of string-matching, while
// the error still satisfies the grpc status.FromError contract for
// callers that prefer to work with codes.Code.
type Kind int

const (
	KindProtocolError Kind = iota + 1
	KindStateTransitionNotAllowed
	KindChannelNotExist
	KindChannelAlreadyExist
	KindOutOfMemory
	KindOutOfSessionMemory
	KindOutOfKeySlots
	KindInvalidChannelState
	KindInvalidChannelStateDisconnected
	KindInvalidKeySlot
	KindInvalidInObject
	KindCancelled
	KindUnknownCommand
	KindPreconditionViolation
	KindDomainObjectNotFound
	KindPointerBufferTooSmall
	KindProcessCreationFailed
)

var kindNames = map[Kind]string{
	KindProtocolError:                  "ProtocolError",
	KindStateTransitionNotAllowed:      "StateTransitionNotAllowed",
	KindChannelNotExist:                "ChannelNotExist",
	KindChannelAlreadyExist:            "ChannelAlreadyExist",
	KindOutOfMemory:                    "OutOfMemory",
	KindOutOfSessionMemory:             "OutOfSessionMemory",
	KindOutOfKeySlots:                  "OutOfKeySlots",
	KindInvalidChannelState:            "InvalidChannelState",
	KindInvalidChannelStateDisconnected: "InvalidChannelStateDisconnected",
	KindInvalidKeySlot:                 "InvalidKeySlot",
	KindInvalidInObject:                "InvalidInObject",
	KindCancelled:                      "Cancelled",
	KindUnknownCommand:                 "UnknownCommand",
	KindPreconditionViolation:          "PreconditionViolation",
	KindDomainObjectNotFound:           "DomainObjectNotFound",
	KindPointerBufferTooSmall:          "PointerBufferTooSmall",
	KindProcessCreationFailed:          "ProcessCreationFailed",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// grpcCode maps a Kind onto the nearest-fit canonical grpc code.
func (k Kind) grpcCode() codes.Code {
	switch k {
	case KindChannelNotExist, KindDomainObjectNotFound:
		return codes.NotFound
	case KindChannelAlreadyExist:
		return codes.AlreadyExists
	case KindOutOfMemory, KindOutOfSessionMemory, KindOutOfKeySlots:
		return codes.ResourceExhausted
	case KindCancelled:
		return codes.Canceled
	case KindUnknownCommand:
		return codes.Unimplemented
	case KindProtocolError, KindStateTransitionNotAllowed,
		KindInvalidChannelState, KindInvalidChannelStateDisconnected,
		KindInvalidKeySlot, KindInvalidInObject, KindPreconditionViolation,
		KindPointerBufferTooSmall:
		return codes.FailedPrecondition
	case KindProcessCreationFailed:
		return codes.Internal
	default:
		return codes.Internal
	}
}

// Error is the concrete error type returned by NewError. It satisfies
// both plain `error` and, via GRPCStatus, the grpc status.FromError
// contract so existing grpc-aware callers keep working.
type Error struct {
	kind Kind
	msg  string
}

func (e *Error) Error() string { return "[" + e.kind.String() + "] " + e.msg }

func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.kind.grpcCode(), e.msg)
}

// Kind returns the taxonomy entry this error was constructed with.
func (e *Error) Kind() Kind { return e.kind }

// NewError builds a Kind-tagged error with a printf-style message.
func NewError(k Kind, format string, args ...interface{}) error {
	return &Error{kind: k, msg: fmt.Sprintf(format, args...)}
}

// ErrorKind recovers the Kind previously attached by NewError, if any.
func ErrorKind(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if asErr, ok := err.(*Error); ok {
			e = asErr
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.kind, true
}

// Is makes errors.Is(err, SomeKind-wrapped-sentinel) work by comparing
// Kinds rather than pointer identity — not used internally (we always
// inspect Kind directly) but kept because it is the idiomatic hook a
// caller outside this module would reach for first.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.kind == t.kind
}
