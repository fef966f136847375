// Package playerror defines the wire-visible error taxonomy shared by every
// layer of the core: the framing codec, the session boundary, the stage
// runtime, and the inter-server mesh all report failures through a Code
// rather than a Go type name, so the code survives a trip across the wire.
package playerror

import (
	"errors"
	"fmt"
)

// Code is the ushort error code carried on RoutePacket.header.errorCode and
// on client response frames.
type Code uint16

const (
	Success          Code = 0
	ConnectionClosed Code = 1
	ConnectionFailed Code = 2
	EncodeFailed     Code = 3
	DecodeFailed     Code = 4
	RequestTimeout   Code = 5
	InvalidResponse  Code = 6
	StageNotFound    Code = 7
	HandlerNotFound  Code = 8
	Unauthorized     Code = 9
	BufferOverflow   Code = 10
	Disabled         Code = 11
)

var names = map[Code]string{
	Success:          "Success",
	ConnectionClosed: "ConnectionClosed",
	ConnectionFailed: "ConnectionFailed",
	EncodeFailed:     "EncodeFailed",
	DecodeFailed:     "DecodeFailed",
	RequestTimeout:   "RequestTimeout",
	InvalidResponse:  "InvalidResponse",
	StageNotFound:    "StageNotFound",
	HandlerNotFound:  "HandlerNotFound",
	Unauthorized:     "Unauthorized",
	BufferOverflow:   "BufferOverflow",
	Disabled:         "Disabled",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", uint16(c))
}

// Error wraps an underlying error with a wire Code. It is the type every
// layer boundary in this repository returns instead of a bare error, so
// callers at the session/mesh boundary can recover the code to put on a
// reply frame without string-matching error messages.
type Error struct {
	Code Code
	Err  error
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Err: fmt.Errorf("%s", msg)}
}

func Wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the wire Code from err, defaulting to InvalidResponse for
// errors that never passed through Wrap/New — mirrors the teacher's posture
// of always putting a non-zero, meaningful code on a reply rather than a
// generic failure.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return InvalidResponse
}
