package zcall

import (
	"context"
	"encoding/json"
	"fmt"
)

// Call invokes a json operation registered with ServeMux.RegisterName.
// args are sent as a json array, the reply is decoded into result unless it is nil.
// A remote failure is returned as *RemoteError, a transport failure as *TransportError.
func Call(ctx context.Context, conn Conn, operation string, result interface{}, args ...interface{}) (err error) {
	inv, err := NewInvocation(conn, operation)
	if err != nil {
		return
	}
	return callJSON(ctx, inv, result, args)
}

// Call is like the package level Call but reuses an invocation from the pool
func (p *Pool) Call(ctx context.Context, conn Conn, operation string, result interface{}, args ...interface{}) (err error) {
	inv, err := p.Get(conn, operation)
	if err != nil {
		return
	}
	defer p.Put(inv)
	return callJSON(ctx, inv, result, args)
}

func callJSON(ctx context.Context, inv *Invocation, result interface{}, args []interface{}) (err error) {
	request, err := inv.Request()
	if err != nil {
		return
	}
	if args == nil {
		args = []interface{}{}
	}
	if err = json.NewEncoder(request).Encode(args); err != nil {
		return
	}

	if err = inv.Invoke(ctx); err != nil {
		return
	}
	if err = inv.RemoteErr(); err != nil {
		return
	}

	reply, _ := inv.Reply()
	if _, err = reply.ReadByte(); err != nil {
		return
	}
	if result == nil {
		return
	}
	if err = json.Unmarshal(reply.Bytes()[reply.Pos():], result); err != nil {
		err = fmt.Errorf("zcall: decode result of %s: %w", inv.Operation(), err)
	}
	return
}
