package zcall

import (
	"encoding/binary"
	"math"
)

// Frame is the unit on the wire: a 16 byte header followed by Payload.
//
//	uint32 payload length | uint64 request id | uint8 flags | uint24 kind
type Frame struct {
	RequestID uint64
	Flags     FrameFlag
	Kind      Kind
	Payload   []byte
}

type FrameFlag uint8

// Kind tells requests from replies, only the lower 3 bytes are used
type Kind uint32

const (
	KindRequest Kind = iota + 1
	KindReply
)

const (
	headerSize = 16
	// MaxKind for zcall
	MaxKind = 0xffffff
	// MaxOperationLen is the longest operation name a request frame can carry
	MaxOperationLen = math.MaxUint16
	// DefaultMaxFrameSize bounds a frame payload unless ConnectionConfig says otherwise
	DefaultMaxFrameSize = 16 << 20
)

func putHeader(header *[headerSize]byte, payloadLength int, requestID uint64, flags FrameFlag, kind Kind) {
	binary.BigEndian.PutUint32(header[:], uint32(payloadLength))
	binary.BigEndian.PutUint64(header[4:], requestID)
	binary.BigEndian.PutUint32(header[12:], uint32(flags)<<24|uint32(kind&MaxKind))
}

func parseHeader(header []byte) (emptyFrame *Frame, payloadLength uint32) {
	payloadLength = binary.BigEndian.Uint32(header)
	requestID := binary.BigEndian.Uint64(header[4:])
	kindAndFlags := binary.BigEndian.Uint32(header[12:])
	// TODO pool
	emptyFrame = &Frame{
		RequestID: requestID,
		Kind:      Kind(kindAndFlags & MaxKind),
		Flags:     FrameFlag(kindAndFlags >> 24),
	}
	return
}

// encodeRequest lays out a request payload: uint16 operation length, operation, request bytes
func encodeRequest(operation string, request []byte) []byte {
	payload := make([]byte, 2+len(operation)+len(request))
	binary.BigEndian.PutUint16(payload, uint16(len(operation)))
	copy(payload[2:], operation)
	copy(payload[2+len(operation):], request)
	return payload
}

// DecodeRequest splits a request frame payload into operation name and request bytes
func DecodeRequest(payload []byte) (operation string, request []byte, err error) {
	if len(payload) < 2 {
		err = ErrMalformedFrame
		return
	}
	n := int(binary.BigEndian.Uint16(payload))
	if n == 0 || len(payload) < 2+n {
		err = ErrMalformedFrame
		return
	}
	operation = string(payload[2 : 2+n])
	request = payload[2+n:]
	return
}
