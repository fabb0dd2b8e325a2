package main

import (
	"encoding/binary"
	"errors"

	"github.com/zhiqiangxu/zcall"
)

type Arith struct{}

func (Arith) Add(a, b int32) int32 {
	return a + b
}

func (Arith) Div(a, b int32) (int32, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

type Echo struct{}

func (Echo) Echo(s string) string {
	return s
}

func registerDemo(mux *zcall.ServeMux) {
	if err := mux.RegisterName("Arith", Arith{}); err != nil {
		panic(err)
	}
	if err := mux.RegisterName("Echo", Echo{}); err != nil {
		panic(err)
	}

	mux.HandleFunc("echo", func(request []byte) []byte {
		return append([]byte{byte(zcall.ReplyOK)}, request...)
	})
	// add takes two big endian int32 and answers their sum
	mux.HandleFunc("add", func(request []byte) []byte {
		if len(request) != 8 {
			return append([]byte{byte(zcall.ReplyUserException)}, "add wants 8 bytes"...)
		}
		reply := make([]byte, 5)
		sum := int32(binary.BigEndian.Uint32(request)) + int32(binary.BigEndian.Uint32(request[4:]))
		binary.BigEndian.PutUint32(reply[1:], uint32(sum))
		return reply
	})
}
