package zcall

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type connFunc func(ctx context.Context, operation string, request []byte) ([]byte, error)

func (f connFunc) Invoke(ctx context.Context, operation string, request []byte) ([]byte, error) {
	return f(ctx, operation, request)
}

func replyConn(reply []byte) Conn {
	return connFunc(func(ctx context.Context, operation string, request []byte) ([]byte, error) {
		return reply, nil
	})
}

func failConn(err error) Conn {
	return connFunc(func(ctx context.Context, operation string, request []byte) ([]byte, error) {
		return nil, err
	})
}

func TestInvocationAdd(t *testing.T) {
	var (
		gotOperation string
		gotRequest   []byte
	)
	conn := connFunc(func(ctx context.Context, operation string, request []byte) ([]byte, error) {
		gotOperation = operation
		gotRequest = append([]byte(nil), request...)
		return []byte{0, 0, 0, 5}, nil
	})

	inv, err := NewInvocation(conn, "add")
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status() != StatusNotSent {
		t.Fatalf("new invocation is %s", inv.Status())
	}
	request, err := inv.Request()
	if err != nil {
		t.Fatal(err)
	}
	request.Write([]byte{0, 0, 0, 2, 0, 0, 0, 3})

	if err = inv.Invoke(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotOperation != "add" || !bytes.Equal(gotRequest, []byte{0, 0, 0, 2, 0, 0, 0, 3}) {
		t.Fatalf("conn got %q %v", gotOperation, gotRequest)
	}
	if inv.Status() != StatusCompleted {
		t.Fatalf("status %s after Invoke", inv.Status())
	}

	reply, err := inv.Reply()
	if err != nil {
		t.Fatal(err)
	}
	if reply.Pos() != 0 {
		t.Fatalf("reply cursor at %d", reply.Pos())
	}
	p, err := reply.Next(4)
	if err != nil || !bytes.Equal(p, []byte{0, 0, 0, 5}) {
		t.Fatalf("reply Next(4) = %v, %v", p, err)
	}
	if status, _ := inv.ReplyStatus(); status != ReplyOK {
		t.Fatalf("reply status %s", status)
	}
	if err = inv.RemoteErr(); err != nil {
		t.Fatal(err)
	}
	if _, err = inv.Request(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Request after Invoke = %v", err)
	}
}

func TestInvocationInvalidOperationName(t *testing.T) {
	if _, err := NewInvocation(replyConn([]byte{0}), ""); !errors.Is(err, ErrInvalidOperationName) {
		t.Fatalf("empty operation: %v", err)
	}
	long := string(bytes.Repeat([]byte{'a'}, MaxOperationLen+1))
	if _, err := NewInvocation(replyConn([]byte{0}), long); !errors.Is(err, ErrInvalidOperationName) {
		t.Fatalf("long operation: %v", err)
	}
	if _, err := NewInvocation(nil, "add"); err == nil {
		t.Fatal("nil conn accepted")
	}
}

func TestInvocationTransportFailure(t *testing.T) {
	inv, err := NewInvocation(failConn(io.ErrUnexpectedEOF), "add")
	if err != nil {
		t.Fatal(err)
	}
	request, _ := inv.Request()
	request.Write([]byte{0, 0, 0, 2})

	err = inv.Invoke(context.Background())
	if !errors.Is(err, ErrTransportFailure) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Invoke = %v", err)
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Operation != "add" {
		t.Fatalf("Invoke = %#v", err)
	}
	if inv.Status() != StatusFailed {
		t.Fatalf("status %s", inv.Status())
	}
	if inv.reply.Len() != 0 {
		t.Fatal("reply buffer not empty after transport failure")
	}
	if _, err = inv.Reply(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Reply after failure = %v", err)
	}

	err = inv.Invoke(context.Background())
	if !errors.Is(err, ErrInvalidState) || errors.Is(err, ErrTransportFailure) {
		t.Fatalf("second Invoke = %v", err)
	}
	if inv.Status() != StatusFailed {
		t.Fatalf("second Invoke changed status to %s", inv.Status())
	}
}

func TestInvocationEmptyReplyIsTransportFailure(t *testing.T) {
	inv, _ := NewInvocation(replyConn(nil), "noop")
	err := inv.Invoke(context.Background())
	if !errors.Is(err, ErrTransportFailure) || !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("Invoke = %v", err)
	}
}

func TestInvocationRemoteFailure(t *testing.T) {
	inv, _ := NewInvocation(replyConn(append([]byte{byte(ReplyUserException)}, "boom"...)), "explode")

	if err := inv.Invoke(context.Background()); err != nil {
		t.Fatalf("remote failure surfaced as local fault: %v", err)
	}
	if inv.Status() != StatusCompleted {
		t.Fatalf("status %s", inv.Status())
	}

	reply, _ := inv.Reply()
	c, err := reply.ReadByte()
	if err != nil || ReplyStatus(c) != ReplyUserException || !ReplyStatus(c).Failed() {
		t.Fatalf("leading byte %d, %v", c, err)
	}

	var re *RemoteError
	if err = inv.RemoteErr(); !errors.As(err, &re) {
		t.Fatalf("RemoteErr = %v", err)
	}
	if re.Status != ReplyUserException || string(re.Payload) != "boom" {
		t.Fatalf("RemoteError %+v", re)
	}
}

func TestInvocationSecondInvokeKeepsOutcome(t *testing.T) {
	calls := 0
	conn := connFunc(func(ctx context.Context, operation string, request []byte) ([]byte, error) {
		calls++
		return []byte{0, 42}, nil
	})
	inv, _ := NewInvocation(conn, "answer")
	if err := inv.Invoke(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := inv.Invoke(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second Invoke = %v", err)
	}
	if calls != 1 {
		t.Fatalf("conn called %d times", calls)
	}
	reply, err := inv.Reply()
	if err != nil || !bytes.Equal(reply.Bytes(), []byte{0, 42}) {
		t.Fatalf("reply %v, %v", reply, err)
	}
}

func TestInvocationReplyBeforeCompletion(t *testing.T) {
	inv, _ := NewInvocation(replyConn([]byte{0}), "op")
	if _, err := inv.Reply(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Reply before Invoke = %v", err)
	}
	if _, err := inv.ReplyStatus(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("ReplyStatus before Invoke = %v", err)
	}
	if err := inv.RemoteErr(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("RemoteErr before Invoke = %v", err)
	}
}

func TestInvocationConcurrentInvokeRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	conn := connFunc(func(ctx context.Context, operation string, request []byte) ([]byte, error) {
		close(started)
		<-release
		return []byte{0}, nil
	})
	inv, _ := NewInvocation(conn, "slow")

	done := make(chan error, 1)
	go func() {
		done <- inv.Invoke(context.Background())
	}()
	<-started

	if inv.Status() != StatusInFlight {
		t.Fatalf("status %s while blocked", inv.Status())
	}
	if err := inv.Invoke(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("concurrent Invoke = %v", err)
	}
	if _, err := inv.Request(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Request while in flight = %v", err)
	}
	if _, err := inv.Reply(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Reply while in flight = %v", err)
	}
	if err := inv.Reset(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Reset while in flight = %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestInvocationContextPassedThrough(t *testing.T) {
	conn := connFunc(func(ctx context.Context, operation string, request []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	inv, _ := NewInvocation(conn, "hang")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := inv.Invoke(ctx)
	if !errors.Is(err, ErrTransportFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Invoke = %v", err)
	}
}

func TestInvocationReset(t *testing.T) {
	reply := []byte{0, 1}
	inv, _ := NewInvocation(failConn(io.EOF), "op")
	request, _ := inv.Request()
	request.Write([]byte{1, 2, 3})
	inv.Invoke(context.Background())

	if err := inv.Reset(); err != nil {
		t.Fatal(err)
	}
	if inv.Status() != StatusNotSent {
		t.Fatalf("status %s after Reset", inv.Status())
	}
	request, err := inv.Request()
	if err != nil || request.Len() != 0 {
		t.Fatalf("request after Reset: %v, %v", request, err)
	}

	inv.conn = replyConn(reply)
	if err = inv.Invoke(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, _ := inv.Reply()
	if !bytes.Equal(got.Bytes(), reply) {
		t.Fatalf("reply %v", got.Bytes())
	}
}
