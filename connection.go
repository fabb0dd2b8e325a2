package zcall

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhiqiangxu/util"
	"go.uber.org/zap"
)

// Connection is a framed, multiplexed transport.
// Many invocations may share one Connection, replies are matched to them by request id.
type Connection struct {
	sync.RWMutex
	closed      int32
	closeReason error
	wg          sync.WaitGroup
	rw          net.Conn
	h           Handler
	config      ConnectionConfig
	nextBytes   []byte
	ridGen      uint64
	respes      map[uint64]func(*Frame)
	server      uint64
}

var _ Conn = (*Connection)(nil)

var DefaultReadSize = 300

// TCPConn in zcall's aspect
type TCPConn interface {
	net.Conn
	SetKeepAlive(keepalive bool) error
	SetKeepAlivePeriod(d time.Duration) error
	SetWriteBuffer(bytes int) error
	SetReadBuffer(bytes int) error
}

// DialTCP connects to a zcall server, h serves requests initiated by the peer and may be nil
func DialTCP(address string, config ConnectionConfig, h Handler) (c *Connection, err error) {
	return dial("tcp", address, config, h)
}

func DialUnix(address string, config ConnectionConfig, h Handler) (c *Connection, err error) {
	return dial("unix", address, config, h)
}

func dial(network, address string, config ConnectionConfig, h Handler) (c *Connection, err error) {
	var rw net.Conn
	if config.DialTimeout > 0 {
		rw, err = net.DialTimeout(network, address, config.DialTimeout)
	} else {
		rw, err = net.Dial(network, address)
	}
	if err != nil {
		return
	}

	c, err = NewConnection(rw, h, config, false)
	if err != nil {
		return
	}

	go c.serve(context.Background())
	return
}

// NewConnection wraps rw, the caller is responsible for running Serve
func NewConnection(rw net.Conn, h Handler, config ConnectionConfig, server bool) (c *Connection, err error) {
	serverInt := uint64(0)
	if server {
		serverInt = uint64(1)
	}
	c = &Connection{rw: rw, h: h, config: config, server: serverInt}
	err = c.init()
	if err != nil {
		if ce := c.Close(err); ce != nil {
			l.Error("zcall: Connection.Close error when NewConnection", zap.Error(ce))
		}
		c = nil
	}
	return
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.rw.RemoteAddr()
}

// Close the connection, pending invocations fail with ErrConnectionClosed
func (c *Connection) Close(reason error) (err error) {
	ok := atomic.CompareAndSwapInt32(&c.closed, 0, 1)
	if !ok {
		err = fmt.Errorf("Connection is already closed")
		return
	}
	err = c.rw.Close()
	if err != nil {
		l.Error("zcall: Connection.Close error", zap.Error(err))
	}

	c.Lock()
	c.closeReason = reason
	respes := c.respes
	c.respes = nil
	c.Unlock()
	for _, f := range respes {
		f(nil)
	}

	if c.config.OnClose != nil {
		c.config.OnClose(c, reason)
	}
	return
}

// IsClosed reports whether Close has been called
func (c *Connection) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) != 0
}

func (c *Connection) closedErr() error {
	c.RLock()
	reason := c.closeReason
	c.RUnlock()
	if reason == nil {
		return ErrConnectionClosed
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, reason)
}

func (c *Connection) init() (err error) {
	tc, ok := c.rw.(TCPConn)
	if c.config.Wbuf > 0 {
		if !ok {
			err = fmt.Errorf("zcall: Wbuf should be zero for non-TCPConn")
			return
		}
		err = tc.SetWriteBuffer(c.config.Wbuf)
		if err != nil {
			return
		}
	}

	if c.config.Rbuf > 0 {
		if !ok {
			err = fmt.Errorf("zcall: Rbuf should be zero for non-TCPConn")
			return
		}
		err = tc.SetReadBuffer(c.config.Rbuf)
		if err != nil {
			return
		}
	}

	if c.config.DefaultReadSize == 0 {
		c.config.DefaultReadSize = DefaultReadSize
	} else if c.config.DefaultReadSize < headerSize {
		c.config.DefaultReadSize = headerSize
	}
	if c.config.MaxFrameSize <= 0 {
		c.config.MaxFrameSize = DefaultMaxFrameSize
	}
	return
}

// Serve reads frames until the connection fails, then closes it.
// DialTCP and Server run it already.
func (c *Connection) Serve(ctx context.Context) error {
	return c.serve(ctx)
}

func (c *Connection) serve(ctx context.Context) (err error) {

	defer func() {
		c.Close(err)
		c.wg.Wait()
	}()

	for {
		var frame *Frame
		frame, err = c.readFrame(ctx)
		if err != nil {
			return
		}

		switch frame.Kind {
		case KindReply:
			c.Lock()
			f := c.respes[frame.RequestID]
			if f != nil {
				delete(c.respes, frame.RequestID)
			}
			c.Unlock()
			if f != nil {
				f(frame)
				continue
			}
			l.Warn("zcall: dropped reply",
				zap.Stringer("remote", c.RemoteAddr()),
				zap.Uint64("requestID", frame.RequestID),
				zap.Int("#payload", len(frame.Payload)),
				zap.Uint64("ridGen", atomic.LoadUint64(&c.ridGen)))
		case KindRequest:
			if c.h == nil {
				l.Warn(
					"zcall: dropped request",
					zap.Stringer("remote", c.RemoteAddr()),
					zap.Uint64("requestID", frame.RequestID),
					zap.Int("#payload", len(frame.Payload)),
					zap.Uint64("ridGen", atomic.LoadUint64(&c.ridGen)))
				continue
			}
			util.GoFunc(&c.wg, func() {
				c.h.ServeZcall(c, frame)
			})
		default:
			l.Warn("zcall: dropped frame of unknown kind",
				zap.Uint32("kind", uint32(frame.Kind)),
				zap.Uint64("requestID", frame.RequestID))
		}
	}
}

func (c *Connection) nextRequestID() uint64 {
	ridGen := atomic.AddUint64(&c.ridGen, 1)
	return 2*ridGen + 1 + c.server
}

// Invoke sends operation with request as a request frame and blocks until the reply frame,
// ctx being done or the connection closing.
// ConnectionConfig.InvocationTimeout applies when ctx carries no deadline.
func (c *Connection) Invoke(ctx context.Context, operation string, request []byte) (reply []byte, err error) {
	if c.config.InvocationTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.config.InvocationTimeout)
			defer cancel()
		}
	}

	// a call already cancelled never reaches the wire
	if err = ctx.Err(); err != nil {
		return
	}

	done := make(chan *Frame, 1)
	requestID, err := c.request(operation, request, func(f *Frame) {
		done <- f
	})
	if err != nil {
		return
	}

	return c.await(ctx, requestID, done)
}

// await blocks for the reply slot of requestID, a reply that arrived is preferred over ctx being done
func (c *Connection) await(ctx context.Context, requestID uint64, done <-chan *Frame) (reply []byte, err error) {
	var f *Frame
	select {
	case f = <-done:
	case <-ctx.Done():
		c.Lock()
		delete(c.respes, requestID)
		c.Unlock()
		select {
		case f = <-done:
		default:
			err = ctx.Err()
			return
		}
	}
	if f == nil {
		err = c.closedErr()
		return
	}
	reply = f.Payload
	return
}

func (c *Connection) request(operation string, request []byte, f func(*Frame)) (requestID uint64, err error) {
	if operation == "" || len(operation) > MaxOperationLen {
		err = ErrInvalidOperationName
		return
	}
	if c.IsClosed() {
		err = c.closedErr()
		return
	}

	payload := encodeRequest(operation, request)
	if len(payload) > c.config.MaxFrameSize {
		err = fmt.Errorf("%w: request of %d bytes exceeds %d", ErrMalformedFrame, len(payload), c.config.MaxFrameSize)
		return
	}

	requestID = c.nextRequestID()
	var header [headerSize]byte
	putHeader(&header, len(payload), requestID, 0, KindRequest)

	err = c.writeFrame(header, payload, f)
	if err != nil {
		l.Error("zcall: writeFrame error", zap.String("operation", operation), zap.Error(err))
	}
	return
}

// Reply answers requestFrame with payload, whose first byte is a ReplyStatus
func (c *Connection) Reply(requestFrame *Frame, payload []byte) (err error) {
	if len(payload) > c.config.MaxFrameSize {
		err = fmt.Errorf("%w: reply of %d bytes exceeds %d", ErrMalformedFrame, len(payload), c.config.MaxFrameSize)
		return
	}

	var header [headerSize]byte
	putHeader(&header, len(payload), requestFrame.RequestID, 0, KindReply)

	return c.writeFrame(header, payload, nil)
}

func (c *Connection) writeFrame(header [headerSize]byte, payload []byte, f func(*Frame)) (err error) {
	fatal, err := c.writeFrameLocked(header, payload, f)
	if fatal {
		c.Close(err)
	}
	return
}

func (c *Connection) writeFrameLocked(header [headerSize]byte, payload []byte, f func(*Frame)) (fatal bool, err error) {
	size := int64(headerSize + len(payload))
	buffs := net.Buffers{header[:], payload}
	wto := c.config.WTO

	c.Lock()
	defer c.Unlock()

	// checked under the lock so that Close never misses a registered reply slot
	if atomic.LoadInt32(&c.closed) != 0 {
		err = ErrConnectionClosed
		return
	}

	if f != nil {
		if c.respes == nil {
			c.respes = make(map[uint64]func(*Frame))
		}
		c.respes[binary.BigEndian.Uint64(header[4:])] = f
	}

	deadline := time.Now().Add(wto)
	if wto > 0 {
		err = c.rw.SetWriteDeadline(deadline)
		if err != nil {
			fatal = true
			return
		}
	}

	var n, offset int64
	for {
		n, err = buffs.WriteTo(c.rw)
		offset += n

		if offset == size {
			return false, nil
		}

		if err != nil {
			if opError, ok := err.(*net.OpError); ok && opError.Timeout() {
				if wto > 0 && time.Now().After(deadline) {
					fatal = true
					return
				}
				continue
			}
			fatal = true
			return
		}
	}
}

func (c *Connection) readFrame(ctx context.Context) (frame *Frame, err error) {

	frame, payloadLength, err := c.readHeader()
	if err != nil {
		return
	}
	if int(payloadLength) > c.config.MaxFrameSize {
		err = fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrMalformedFrame, payloadLength, c.config.MaxFrameSize)
		return
	}

	frame.Payload, err = c.readPayload(payloadLength)

	return
}

func (c *Connection) readHeader() (emptyFrame *Frame, payloadLength uint32, err error) {

	if len(c.nextBytes) >= headerSize {
		emptyFrame, payloadLength = parseHeader(c.nextBytes)
		c.nextBytes = c.nextBytes[headerSize:]
		return
	}

	// TODO pool
	buf := make([]byte, c.config.DefaultReadSize)
	var n, offset int
	for {
		c.rw.SetReadDeadline(time.Time{})
		n, err = c.rw.Read(buf[offset:])
		offset += n
		if len(c.nextBytes)+offset >= headerSize {
			emptyFrame, payloadLength = c.parseSegmentedHeader(buf[0:offset])
			err = nil
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Connection) readPayload(length uint32) (payload []byte, err error) {
	if len(c.nextBytes) >= int(length) {
		payload = c.nextBytes[0:length:length]
		c.nextBytes = c.nextBytes[length:]
		return
	}

	payload = make([]byte, length+uint32(c.config.DefaultReadSize))
	copy(payload, c.nextBytes)
	offset := len(c.nextBytes)
	c.nextBytes = nil

	var n int
	for {
		if c.config.RTO > 0 {
			c.rw.SetReadDeadline(time.Now().Add(c.config.RTO))
		}
		n, err = c.rw.Read(payload[offset:])
		offset += n
		if offset >= int(length) {
			if offset > int(length) {
				c.nextBytes = payload[length:offset]
			}
			payload = payload[0:length:length]
			err = nil
			return
		}
		if err != nil {
			return
		}
	}
}

// invariant : len(c.nextBytes)+len(buf) >= headerSize
func (c *Connection) parseSegmentedHeader(buf []byte) (emptyFrame *Frame, payloadLength uint32) {

	var header [headerSize]byte
	copy(header[:], c.nextBytes)
	copy(header[len(c.nextBytes):], buf[0:headerSize-len(c.nextBytes)])

	emptyFrame, payloadLength = parseHeader(header[:])
	c.nextBytes = buf[headerSize-len(c.nextBytes):]
	return

}
