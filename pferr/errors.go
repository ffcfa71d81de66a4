// Package pferr defines the error kinds surfaced by every device operation.
package pferr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies the class of failure carried by an Error.
type Kind int

const (
	// KindNoDevice indicates no matching reader or HID interface was found.
	KindNoDevice Kind = iota
	// KindPcsc wraps a failure reported by the smart-card subsystem.
	KindPcsc
	// KindIo covers local encode/decode failures and transport write/read failures.
	KindIo
	// KindDevice indicates the device answered but signaled a protocol-level failure.
	KindDevice
	// KindBusy indicates the device kept the channel busy (keepalive) past the
	// allowed wall-clock ceiling, usually because it awaits user presence.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindNoDevice:
		return "NoDevice"
	case KindPcsc:
		return "Pcsc"
	case KindIo:
		return "Io"
	case KindDevice:
		return "Device"
	case KindBusy:
		return "Busy"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) label() string {
	switch k {
	case KindPcsc:
		return "PCSC Error"
	case KindIo:
		return "IO/Hex Error"
	case KindDevice:
		return "Device Error"
	case KindBusy:
		return "Device Busy"
	}
	return k.String()
}

// NoCode is the Code of an Error that does not carry a CTAP status.
const NoCode = -1

type Error struct {
	Kind Kind
	Msg  string
	// Code holds the CTAP status or CTAPHID error byte reported by the
	// device, or NoCode.
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindNoDevice {
		return "No device found"
	}
	return e.Kind.label() + ": " + e.Message()
}

// Message returns the human-readable text without the kind prefix.
func (e *Error) Message() string {
	if e.Kind == KindNoDevice {
		return "No device found"
	}
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{e.Kind.String(), e.Message()})
}

func NoDevice() *Error {
	return &Error{Kind: KindNoDevice, Code: NoCode}
}

func Pcsc(err error) *Error {
	return &Error{Kind: KindPcsc, Code: NoCode, Err: err}
}

func Io(format string, args ...any) *Error {
	return newError(KindIo, format, args...)
}

func Device(format string, args ...any) *Error {
	return newError(KindDevice, format, args...)
}

func Busy(format string, args ...any) *Error {
	return newError(KindBusy, format, args...)
}

// CTAP builds a Device error carrying the given CTAP status code. The code is
// appended to the message as 0xNN so it stays visible in plain-text logs.
func CTAP(code byte, format string, args ...any) *Error {
	e := newError(KindDevice, format, args...)
	e.Msg = fmt.Sprintf("%s (0x%02X %s)", e.Msg, code, CTAPErrorName(code))
	e.Code = int(code)
	return e
}

func newError(kind Kind, format string, args ...any) *Error {
	// %w keeps the chain so HasCode and errors.Is see through wrapped errors
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Code: NoCode, Msg: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

// KindOf returns the kind of the first *Error in err's chain. Errors that do
// not carry a kind are reported as KindIo.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIo
}

func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func IsNoDevice(err error) bool { return Is(err, KindNoDevice) }

// HasCode reports whether any *Error in err's chain carries the given CTAP code.
func HasCode(err error, code byte) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == int(code) {
			return true
		}
		err = e.Err
	}
	return false
}
