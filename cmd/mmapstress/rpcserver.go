package main

import (
	"math/rand"
	"net"
	"net/rpc"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/shenjiangwei/mmapalloc"
	"github.com/shenjiangwei/mmapalloc/internal/mmlog"
	"github.com/shenjiangwei/mmapalloc/internal/region"
)

// allocRequest/allocResponse/freeRequest/freeResponse cross the wire as
// plain integers: net/rpc's gob codec cannot carry an unsafe.Pointer, so
// the server is the only party that ever dereferences the address — the
// client just holds the handle spec.md's own preload framing already
// treats addresses as.

type allocRequest struct {
	Size uintptr
}

type allocResponse struct {
	Addr  uintptr
	Error string
}

type freeRequest struct {
	Addr uintptr
	Size uintptr
}

type freeResponse struct {
	Error string
}

// poolServer exposes a memoryPool over net/rpc, the same shape as the
// teacher's rpc.Server wrapping its own mpool.MemoryPool.
type poolServer struct {
	pool  *memoryPool
	alloc *mmapalloc.Allocator
	mu    sync.Mutex
}

func newPoolServer() (*poolServer, error) {
	alloc := mmapalloc.New(&region.FirstFit{})
	pool, err := newMemoryPool(alloc, rand.Intn)
	if err != nil {
		return nil, errors.Wrap(err, "create memory pool")
	}

	s := &poolServer{pool: pool, alloc: alloc}
	if err := rpc.Register(s); err != nil {
		return nil, errors.Wrap(err, "register rpc server")
	}
	return s, nil
}

// Serve accepts connections on address until the listener is closed.
func (s *poolServer) Serve(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	defer listener.Close()

	mmlog.Info().Str("address", address).Msg("rpc server listening")
	for {
		conn, err := listener.Accept()
		if err != nil {
			mmlog.Error().Err(err).Msg("accept failed")
			continue
		}
		go rpc.ServeConn(conn)
	}
}

// Allocate is the RPC-exported allocation method.
func (s *poolServer) Allocate(req *allocRequest, resp *allocResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ptr, err := s.pool.Allocate(req.Size)
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	resp.Addr = uintptr(ptr)
	return nil
}

// Free is the RPC-exported release method.
func (s *poolServer) Free(req *freeRequest, resp *freeResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pool.Free(unsafe.Pointer(req.Addr), req.Size)
	return nil
}

// Stats is the RPC-exported statistics method.
func (s *poolServer) Stats(_ *struct{}, resp *mmapalloc.Stats) error {
	*resp = s.alloc.Stats()
	return nil
}

func (s *poolServer) Close() poolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Close()
}
