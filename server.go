package zcall

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/zhiqiangxu/util"
	"go.uber.org/zap"
)

type Responser interface {
	Reply(requestFrame *Frame, payload []byte) error
	Close(reason error) error
}

type Server struct {
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	ln         net.Listener
	config     ServerConfig
}

func newServer(ln net.Listener, config ServerConfig) *Server {
	ctx, cancelFunc := context.WithCancel(context.Background())
	return &Server{ln: ln, ctx: ctx, cancelFunc: cancelFunc, config: config}
}

func ListenTCP(address string, config ServerConfig) (s *Server, err error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return
	}

	s = newServer(ln, config)
	return
}

func ListenUnix(address string, config ServerConfig) (s *Server, err error) {
	ln, err := net.Listen("unix", address)
	if err != nil {
		return
	}

	s = newServer(ln, config)
	return
}

// Addr of the listener
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections in the background until Shutdown
func (s *Server) Serve(h Handler) {
	util.GoFunc(&s.wg, func() {
		var tempDelay time.Duration // how long to sleep on accept failure
		for {
			rw, err := s.ln.Accept()
			if err == nil {
				tempDelay = 0

				util.GoFunc(&s.wg, func() {
					c, err := NewConnection(rw, h, s.config.Connection, true)
					if err != nil {
						l.Error("zcall: NewConnection error when Server.Serve", zap.Error(err))
						return
					}
					done := make(chan struct{})
					util.GoFunc(&s.wg, func() {
						select {
						case <-s.ctx.Done():
							c.Close(s.ctx.Err())
						case <-done:
						}
					})
					c.serve(s.ctx)
					close(done)
				})
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}

			// handle error
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				l.Error("zcall: Accept", zap.Duration("retrying in", tempDelay), zap.Error(err))
				time.Sleep(tempDelay)
				continue
			}
			l.Error("zcall: Accept fatal", zap.Error(err)) // accept4: too many open files in system
			time.Sleep(time.Second)                        // keep trying instead of quit
		}
	})
}

// Shutdown stops accepting, closes served connections and waits for them
func (s *Server) Shutdown() (err error) {
	s.cancelFunc()

	err = s.ln.Close()

	s.wg.Wait()
	return
}
