package zcall

// noCopy makes go vet's copylocks check report value copies of the embedding struct
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Buffer is a growable byte sequence with a read cursor.
// Writes append after the content end, reads advance the cursor.
// A Buffer must not be copied after first use, and is not safe for concurrent use.
type Buffer struct {
	_ noCopy

	b []byte
	i int
}

// Write appends p to the content, it never fails
func (buf *Buffer) Write(p []byte) (int, error) {
	buf.b = append(buf.b, p...)
	return len(p), nil
}

// WriteByte appends c to the content
func (buf *Buffer) WriteByte(c byte) error {
	buf.b = append(buf.b, c)
	return nil
}

// Next returns the next n bytes and advances the cursor past them.
// If fewer than n bytes remain, nothing is consumed and ErrBufferUnderrun is returned.
// The returned slice aliases the content and is only valid until the next write or Reset.
func (buf *Buffer) Next(n int) (p []byte, err error) {
	if n < 0 || n > buf.Remaining() {
		err = ErrBufferUnderrun
		return
	}
	p = buf.b[buf.i : buf.i+n : buf.i+n]
	buf.i += n
	return
}

// ReadByte consumes one byte
func (buf *Buffer) ReadByte() (c byte, err error) {
	if buf.i >= len(buf.b) {
		err = ErrBufferUnderrun
		return
	}
	c = buf.b[buf.i]
	buf.i++
	return
}

// Rewind moves the cursor back to the start, keeping the content
func (buf *Buffer) Rewind() {
	buf.i = 0
}

// Reset drops the content but keeps the allocated storage for reuse
func (buf *Buffer) Reset() {
	buf.b = buf.b[:0]
	buf.i = 0
}

// Len is the content size
func (buf *Buffer) Len() int {
	return len(buf.b)
}

// Remaining is the number of unread bytes
func (buf *Buffer) Remaining() int {
	return len(buf.b) - buf.i
}

// Pos is the cursor
func (buf *Buffer) Pos() int {
	return buf.i
}

// Bytes returns the whole content regardless of the cursor
func (buf *Buffer) Bytes() []byte {
	return buf.b
}
