package zcall

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperationName is returned when an invocation is created with an empty operation name
	ErrInvalidOperationName = errors.New("zcall: invalid operation name")
	// ErrInvalidState is returned on api misuse, eg. invoking twice or reading the reply before completion
	ErrInvalidState = errors.New("zcall: invalid invocation state")
	// ErrBufferUnderrun is returned when reading past the written content of a Buffer
	ErrBufferUnderrun = errors.New("zcall: buffer underrun")
	// ErrTransportFailure matches every error reported by the Conn of an invocation
	ErrTransportFailure = errors.New("zcall: transport failure")
	// ErrConnectionClosed is reported to invocations pending on a closed Connection
	ErrConnectionClosed = errors.New("zcall: connection closed")
	// ErrMalformedFrame is returned when a frame or reply can not be decoded
	ErrMalformedFrame = errors.New("zcall: malformed frame")

	errNilConn = errors.New("zcall: nil Conn")
)

// TransportError wraps the cause of a failed Invoke
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("zcall: transport failure invoking %q: %v", e.Operation, e.Err)
}

// Is makes errors.Is(err, ErrTransportFailure) hold
func (e *TransportError) Is(target error) bool {
	return target == ErrTransportFailure
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteError is an application level failure reported by the callee.
// The call itself completed, so it is returned as data by Invocation.RemoteErr
// and never by Invoke.
type RemoteError struct {
	Status  ReplyStatus
	Payload []byte
}

func (e *RemoteError) Error() string {
	if len(e.Payload) == 0 {
		return fmt.Sprintf("zcall: remote failure: %s", e.Status)
	}
	return fmt.Sprintf("zcall: remote failure: %s: %s", e.Status, e.Payload)
}
