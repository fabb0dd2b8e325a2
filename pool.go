package zcall

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

const (
	DefaultPoolMaxConns       = 64
	DefaultPoolMaxIdlePerConn = 16
)

// Pool recycles invocations per Conn to amortize buffer allocations.
// Free lists of the least recently used connections are dropped once more than
// MaxConns connections are tracked. Conn values used as keys must be comparable.
type Pool struct {
	mu      sync.Mutex
	idle    *lru.Cache
	maxIdle int
}

// NewPool creates a Pool, zero fields of config take the package defaults
func NewPool(config PoolConfig) (p *Pool, err error) {
	if config.MaxConns <= 0 {
		config.MaxConns = DefaultPoolMaxConns
	}
	if config.MaxIdlePerConn <= 0 {
		config.MaxIdlePerConn = DefaultPoolMaxIdlePerConn
	}

	idle, err := lru.New(config.MaxConns)
	if err != nil {
		return
	}
	p = &Pool{idle: idle, maxIdle: config.MaxIdlePerConn}
	return
}

// Get returns a not yet sent invocation of operation bound to conn
func (p *Pool) Get(conn Conn, operation string) (inv *Invocation, err error) {
	if operation == "" || len(operation) > MaxOperationLen {
		err = ErrInvalidOperationName
		return
	}
	if conn == nil {
		err = errNilConn
		return
	}

	p.mu.Lock()
	if v, ok := p.idle.Get(conn); ok {
		free := v.([]*Invocation)
		if n := len(free); n > 0 {
			inv = free[n-1]
			free[n-1] = nil
			p.idle.Add(conn, free[:n-1])
		}
	}
	p.mu.Unlock()

	if inv == nil {
		return NewInvocation(conn, operation)
	}
	inv.pooled = false
	// pooled invocations are reset already
	inv.operation = operation
	return
}

// Put resets inv and keeps it for reuse with the same Conn.
// inv must not be used by the caller afterwards.
func (p *Pool) Put(inv *Invocation) (err error) {
	if inv.pooled {
		return ErrInvalidState
	}
	if err = inv.Reset(); err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var free []*Invocation
	if v, ok := p.idle.Get(inv.conn); ok {
		free = v.([]*Invocation)
	}
	if len(free) >= p.maxIdle {
		return
	}
	inv.pooled = true
	p.idle.Add(inv.conn, append(free, inv))
	return
}

// Forget drops the free list of conn, eg. after it was closed
func (p *Pool) Forget(conn Conn) {
	p.mu.Lock()
	p.idle.Remove(conn)
	p.mu.Unlock()
}

// Len is the number of connections with a free list
func (p *Pool) Len() int {
	return p.idle.Len()
}
