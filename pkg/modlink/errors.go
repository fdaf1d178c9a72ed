package modlink

import (
	"errors"
	"fmt"
)

var (
	// ErrFraming indicates the bytes don't start with the framing bytes.
	ErrFraming = errors.New("illegal datagram framing")
	// ErrChecksum indicates a datagram failed checksum validation.
	ErrChecksum = errors.New("datagram checksum mismatch")
	// ErrNotAttached indicates no module is attached for an address.
	ErrNotAttached = errors.New("module not attached")
	// ErrNotSerialized indicates a message is transmitted before SendCommand
	// or after the module finished with it.
	ErrNotSerialized = errors.New("message not serialized")
)

// TruncatedFrameError reports fewer bytes than the datagram declares.
type TruncatedFrameError struct {
	Declared  int
	Available int
}

// Error implements error.
func (e *TruncatedFrameError) Error() string {
	return fmt.Sprintf("truncated datagram: %d bytes declared, %d available", e.Declared, e.Available)
}

// PayloadTooLongError reports a payload the length field can't describe.
type PayloadTooLongError struct {
	Length int
}

// Error implements error.
func (e *PayloadTooLongError) Error() string {
	return fmt.Sprintf("payload of %d bytes exceeds %d", e.Length, MaxPayloadLen)
}

// NackError is returned when an exchange ends negatively, either reported
// by the module or synthesized locally when waiting is abandoned.
type NackError struct {
	Module        byte
	Command       string
	CommandNumber uint16
	MessageNumber byte
	Reason        ReasonCode
}

// Error implements error.
func (e *NackError) Error() string {
	return fmt.Sprintf("%s(#0x%04x): nack mod=%d msg#=%d: %s:%d",
		e.Command, e.CommandNumber, e.Module, e.MessageNumber, e.Reason, uint16(e.Reason))
}

// IsTimeout indicates the nack was synthesized because the module went silent.
func (e *NackError) IsTimeout() bool {
	return e.Reason.IsAbandoned()
}

// UnsupportedCommandError indicates the module is known not to implement
// a command, either standalone or as part of its version of an interface.
type UnsupportedCommandError struct {
	Module        byte
	Command       string
	CommandNumber uint16
}

// Error implements error.
func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("command %s(#0x%04x) not supported by mod=%d", e.Command, e.CommandNumber, e.Module)
}

// ProgrammingError is a local logic defect, e.g. looking up a command type
// that was never registered. It is never retried.
type ProgrammingError struct {
	Msg string
}

// Error implements error.
func (e *ProgrammingError) Error() string {
	return "programming error: " + e.Msg
}

func programmingErrorf(format string, args ...interface{}) error {
	return &ProgrammingError{Msg: fmt.Sprintf(format, args...)}
}
