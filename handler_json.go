package zcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// RegisterName exposes every suitable exported method of receiver as operation "name.Method".
// Arguments travel as a json array, the result as json after a ReplyOK byte.
// A returned error is answered with ReplyUserException and the error text.
func (mux *ServeMux) RegisterName(name string, receiver interface{}) (err error) {
	rcvrVal := reflect.ValueOf(receiver)
	if name == "" {
		return fmt.Errorf("no service name for type %s", rcvrVal.Type().String())
	}

	callbacks := suitableCallbacks(rcvrVal)
	if len(callbacks) == 0 {
		return fmt.Errorf("service %T doesn't have any suitable methods to expose", receiver)
	}

	for method := range callbacks {
		cb := callbacks[method]
		fqName := name + "." + method
		mux.HandleFunc(fqName, func(request []byte) []byte {
			args, err := decodeArgs(request, cb.argTypes)
			if err != nil {
				return statusReply(ReplyUnknownLocalException, []byte(fqName+": "+err.Error()))
			}

			result, err := cb.call(context.Background(), fqName, args)
			if err != nil {
				return statusReply(ReplyUserException, []byte(err.Error()))
			}

			resultBytes, err := json.Marshal(result)
			if err != nil {
				return statusReply(ReplyUnknownLocalException, []byte(fqName+": "+err.Error()))
			}
			return statusReply(ReplyOK, resultBytes)
		})
	}

	return
}

func statusReply(status ReplyStatus, payload []byte) []byte {
	reply := make([]byte, 1+len(payload))
	reply[0] = byte(status)
	copy(reply[1:], payload)
	return reply
}

// decodeArgs reads a json array of positional arguments, an empty or null payload means no arguments.
// Trailing pointer arguments may be omitted.
func decodeArgs(payload []byte, types []reflect.Type) (args []reflect.Value, err error) {
	var raw []json.RawMessage
	if len(bytes.TrimSpace(payload)) > 0 {
		if err = json.Unmarshal(payload, &raw); err != nil {
			err = fmt.Errorf("arguments must be a json array: %v", err)
			return
		}
	}
	if len(raw) > len(types) {
		err = fmt.Errorf("too many arguments, want at most %d", len(types))
		return
	}

	args = make([]reflect.Value, 0, len(types))
	for i, t := range types {
		if i >= len(raw) {
			if t.Kind() != reflect.Ptr {
				err = fmt.Errorf("missing value for required argument %d", i)
				return
			}
			args = append(args, reflect.Zero(t))
			continue
		}
		argval := reflect.New(t)
		if err = json.Unmarshal(raw[i], argval.Interface()); err != nil {
			err = fmt.Errorf("invalid argument %d: %v", i, err)
			return
		}
		args = append(args, argval.Elem())
	}
	return
}

func suitableCallbacks(receiver reflect.Value) map[string]*callback {
	typ := receiver.Type()
	callbacks := make(map[string]*callback)
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		if method.PkgPath != "" {
			continue // method not exported
		}
		cb := newCallback(receiver, method.Func)
		if cb == nil {
			continue // function invalid
		}
		callbacks[method.Name] = cb
	}
	return callbacks
}

type callback struct {
	rcvr, fn reflect.Value
	hasCtx   bool
	errPos   int // err return idx, of -1 when method cannot return error
	argTypes []reflect.Type
}

func newCallback(receiver, fn reflect.Value) *callback {
	fntype := fn.Type()
	c := &callback{fn: fn, rcvr: receiver, errPos: -1}
	// Determine parameter types. They must all be exported or builtin types.
	c.makeArgTypes()

	// Verify return types. The function must return at most one error
	// and/or one other non-error value.
	outs := make([]reflect.Type, fntype.NumOut())
	for i := 0; i < fntype.NumOut(); i++ {
		outs[i] = fntype.Out(i)
	}
	if len(outs) > 2 {
		return nil
	}
	// If an error is returned, it must be the last returned value.
	switch {
	case len(outs) == 1 && isErrorType(outs[0]):
		c.errPos = 0
	case len(outs) == 2:
		if isErrorType(outs[0]) || !isErrorType(outs[1]) {
			return nil
		}
		c.errPos = 1
	}
	return c
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

func isErrorType(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Implements(errorType)
}

func (c *callback) makeArgTypes() {
	fntype := c.fn.Type()
	// Skip receiver and context.Context parameter (if present).
	firstArg := 1

	if fntype.NumIn() > firstArg && fntype.In(firstArg) == contextType {
		firstArg++
		c.hasCtx = true
	}
	// Add all remaining parameters.
	c.argTypes = make([]reflect.Type, fntype.NumIn()-firstArg)
	for i := firstArg; i < fntype.NumIn(); i++ {
		c.argTypes[i-firstArg] = fntype.In(i)
	}
}

func (c *callback) call(ctx context.Context, method string, args []reflect.Value) (res interface{}, errRes error) {
	defer func() {
		if e := recover(); e != nil {
			l.Error("zcall: method panic", zap.String("method", method), zap.Any("panic", e))
			res, errRes = nil, fmt.Errorf("%s: panic: %v", method, e)
		}
	}()

	fullargs := make([]reflect.Value, 0, 2+len(args))
	fullargs = append(fullargs, c.rcvr)
	if c.hasCtx {
		fullargs = append(fullargs, reflect.ValueOf(ctx))
	}
	fullargs = append(fullargs, args...)

	// Run the callback.
	results := c.fn.Call(fullargs)
	if len(results) == 0 {
		return nil, nil
	}

	if c.errPos >= 0 && !results[c.errPos].IsNil() {
		// Method has returned non-nil error value.
		err := results[c.errPos].Interface().(error)
		return nil, err
	}
	if c.errPos == 0 {
		return nil, nil
	}
	return results[0].Interface(), nil
}
