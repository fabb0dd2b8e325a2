package zcall

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// A Handler responds to a zcall request frame.
type Handler interface {
	ServeZcall(w Responser, frame *Frame)
}

type HandlerFunc func(w Responser, frame *Frame)

func (f HandlerFunc) ServeZcall(w Responser, frame *Frame) {
	f(w, frame)
}

// OperationFunc serves one operation, the returned reply must start with a ReplyStatus byte
type OperationFunc func(request []byte) (reply []byte)

// ServeMux dispatches request frames by operation name.
type ServeMux struct {
	mu sync.RWMutex
	m  map[string]OperationFunc
}

func NewServeMux() *ServeMux { return &ServeMux{} }

func (mux *ServeMux) HandleFunc(operation string, handler func(request []byte) []byte) {
	mux.Handle(operation, OperationFunc(handler))
}

func (mux *ServeMux) Handle(operation string, handler OperationFunc) {
	if handler == nil {
		panic("zcall: nil handler")
	}

	if operation == "" || len(operation) > MaxOperationLen {
		panic("zcall: invalid operation name")
	}

	mux.mu.Lock()
	defer mux.mu.Unlock()

	if mux.m == nil {
		mux.m = make(map[string]OperationFunc)
	}
	if _, exist := mux.m[operation]; exist {
		panic(fmt.Sprintf("zcall: multiple registrations for operation %s", operation))
	}

	mux.m[operation] = handler
}

func (mux *ServeMux) ServeZcall(w Responser, f *Frame) {
	operation, request, err := DecodeRequest(f.Payload)
	if err != nil {
		l.Error("zcall: bad request", zap.Uint64("requestID", f.RequestID), zap.Error(err))
		w.Close(err)
		return
	}

	mux.mu.RLock()
	h, ok := mux.m[operation]
	mux.mu.RUnlock()

	var reply []byte
	if ok {
		reply = h(request)
	} else {
		l.Warn("zcall: operation not registered", zap.String("operation", operation))
		reply = append([]byte{byte(ReplyOperationNotExist)}, operation...)
	}
	if len(reply) == 0 {
		l.Error("zcall: empty reply", zap.String("operation", operation))
		reply = []byte{byte(ReplyUnknownException)}
	}

	if err = w.Reply(f, reply); err != nil {
		l.Error("zcall: reply failed", zap.String("operation", operation), zap.Error(err))
	}
}
