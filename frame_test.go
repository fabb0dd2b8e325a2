package zcall

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameHeader(t *testing.T) {
	var header [headerSize]byte
	putHeader(&header, 300, 77, 3, KindReply)

	frame, length := parseHeader(header[:])
	if length != 300 || frame.RequestID != 77 || frame.Flags != 3 || frame.Kind != KindReply {
		t.Fatalf("parsed %+v, length %d", frame, length)
	}
}

func TestDecodeRequest(t *testing.T) {
	payload := encodeRequest("add", []byte{0, 0, 0, 2})
	operation, request, err := DecodeRequest(payload)
	if err != nil || operation != "add" || !bytes.Equal(request, []byte{0, 0, 0, 2}) {
		t.Fatalf("DecodeRequest = %q %v %v", operation, request, err)
	}

	for _, bad := range [][]byte{
		nil,
		{0},
		{0, 0},
		{0, 5, 'a', 'd'},
	} {
		if _, _, err = DecodeRequest(bad); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("DecodeRequest(%v) = %v", bad, err)
		}
	}
}

func TestReplyStatusString(t *testing.T) {
	if ReplyOperationNotExist.String() != "operation not exist" {
		t.Fatal(ReplyOperationNotExist.String())
	}
	if ReplyStatus(200).String() != "reply status 200" || !ReplyStatus(200).Failed() {
		t.Fatal("unknown status")
	}
	if ReplyOK.Failed() {
		t.Fatal("ok failed")
	}
}
