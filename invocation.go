package zcall

import (
	"context"
	"sync/atomic"
)

// Conn sends a request for an operation and blocks until its reply arrives.
// Implementations must be safe for concurrent use by many invocations,
// and must not retain request or the returned reply after Invoke returns.
type Conn interface {
	Invoke(ctx context.Context, operation string, request []byte) (reply []byte, err error)
}

// Invocation is one client side remote call.
// It owns a request buffer, filled before Invoke, and a reply buffer, read after it.
// An Invocation is sent at most once unless Reset, and must not be copied or
// used from more than one goroutine at a time.
type Invocation struct {
	_ noCopy

	conn      Conn
	operation string
	status    int32
	request   Buffer
	reply     Buffer
	// owned by a Pool free list
	pooled bool
}

// NewInvocation binds an invocation of operation to conn
func NewInvocation(conn Conn, operation string) (inv *Invocation, err error) {
	if operation == "" || len(operation) > MaxOperationLen {
		err = ErrInvalidOperationName
		return
	}
	if conn == nil {
		err = errNilConn
		return
	}

	inv = &Invocation{conn: conn, operation: operation}
	return
}

// Operation name of the invocation
func (inv *Invocation) Operation() string {
	return inv.operation
}

// Status of the invocation
func (inv *Invocation) Status() Status {
	return Status(atomic.LoadInt32(&inv.status))
}

// Request returns the buffer to marshal arguments into, only before Invoke
func (inv *Invocation) Request() (*Buffer, error) {
	if inv.Status() != StatusNotSent {
		return nil, ErrInvalidState
	}
	return &inv.request, nil
}

// Reply returns the buffer holding the reply, only after a successful Invoke
func (inv *Invocation) Reply() (*Buffer, error) {
	if inv.Status() != StatusCompleted {
		return nil, ErrInvalidState
	}
	return &inv.reply, nil
}

// Invoke sends the request and blocks until the reply or a transport failure.
//
// A reply reporting a remote failure still completes the invocation;
// check ReplyStatus or RemoteErr. Transport failures, including ctx being done,
// leave the invocation failed and are reported as *TransportError.
func (inv *Invocation) Invoke(ctx context.Context) (err error) {
	if !atomic.CompareAndSwapInt32(&inv.status, int32(StatusNotSent), int32(StatusInFlight)) {
		err = ErrInvalidState
		return
	}

	reply, err := inv.conn.Invoke(ctx, inv.operation, inv.request.Bytes())
	if err == nil && len(reply) == 0 {
		// every reply carries at least its status byte
		err = ErrMalformedFrame
	}
	if err != nil {
		inv.reply.Reset()
		atomic.StoreInt32(&inv.status, int32(StatusFailed))
		err = &TransportError{Operation: inv.operation, Err: err}
		return
	}

	inv.reply.Reset()
	inv.reply.Write(reply)
	atomic.StoreInt32(&inv.status, int32(StatusCompleted))
	return
}

// ReplyStatus peeks the leading status byte of the reply without moving the cursor
func (inv *Invocation) ReplyStatus() (ReplyStatus, error) {
	if inv.Status() != StatusCompleted {
		return 0, ErrInvalidState
	}
	return ReplyStatus(inv.reply.Bytes()[0]), nil
}

// RemoteErr is nil if the completed reply reports success, otherwise a *RemoteError
// carrying the status and the payload after it.
func (inv *Invocation) RemoteErr() error {
	status, err := inv.ReplyStatus()
	if err != nil {
		return err
	}
	if !status.Failed() {
		return nil
	}
	return &RemoteError{Status: status, Payload: append([]byte(nil), inv.reply.Bytes()[1:]...)}
}

// Reset clears both buffers and makes the invocation sendable again
func (inv *Invocation) Reset() error {
	for {
		s := atomic.LoadInt32(&inv.status)
		if Status(s) == StatusInFlight {
			return ErrInvalidState
		}
		if atomic.CompareAndSwapInt32(&inv.status, s, int32(StatusInFlight)) {
			break
		}
	}

	inv.request.Reset()
	inv.reply.Reset()
	atomic.StoreInt32(&inv.status, int32(StatusNotSent))
	return nil
}
