// Package remote exposes an Engine over net/rpc, the same wrapper
// pattern the teacher used for its DB: a thin service type whose
// methods forward straight to the engine, registered once and served
// over a TCP listener.
package remote

import (
	"fmt"
	"net"
	"net/rpc"

	"go.uber.org/zap"

	"github.com/mrkeg/bitkv"
)

type GetArgs struct {
	Key []byte
}

type GetReply struct {
	Value []byte
	Found bool
}

type SetArgs struct {
	Key   []byte
	Value []byte
}

type DeleteArgs struct {
	Key []byte
}

// Service adapts an *bitkv.Engine to the net/rpc calling convention.
type Service struct {
	engine *bitkv.Engine
}

func (s *Service) Get(args *GetArgs, reply *GetReply) error {
	value, found, err := s.engine.Get(args.Key)
	if err != nil {
		return err
	}
	reply.Value = value
	reply.Found = found
	return nil
}

func (s *Service) Set(args *SetArgs, _ *struct{}) error {
	return s.engine.Insert(args.Key, args.Value)
}

func (s *Service) Delete(args *DeleteArgs, _ *struct{}) error {
	return s.engine.Delete(args.Key)
}

// Start registers engine as the "DB" RPC service and serves it on addr.
// It returns the bound address, a cleanup func that stops the listener
// and closes engine, and any startup error.
func Start(engine *bitkv.Engine, addr string, log *zap.Logger) (boundAddr string, cleanup func(), err error) {
	if log == nil {
		log = zap.NewNop()
	}

	svc := &Service{engine: engine}

	server := rpc.NewServer()
	if err := server.RegisterName("DB", svc); err != nil {
		_ = engine.Close()
		return "", nil, fmt.Errorf("register rpc service: %w", err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = engine.Close()
		return "", nil, fmt.Errorf("listen on %q: %w", addr, err)
	}

	go server.Accept(listener)

	cleanup = func() {
		_ = listener.Close()
		if err := engine.Close(); err != nil {
			log.Error("close engine", zap.Error(err))
		}
	}
	return listener.Addr().String(), cleanup, nil
}
