package main

import (
	"net/rpc"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/shenjiangwei/mmapalloc"
)

// poolClient is a thin net/rpc stub in front of a poolServer, mirroring
// the teacher's rpc.Client.
type poolClient struct {
	id     int
	client *rpc.Client

	mu        sync.Mutex
	allocated map[uintptr]uintptr // addr -> size, for the demo's own bookkeeping only
}

func newPoolClient(id int, address string) (*poolClient, error) {
	client, err := rpc.Dial("tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "dial rpc server")
	}
	return &poolClient{
		id:        id,
		client:    client,
		allocated: make(map[uintptr]uintptr),
	}, nil
}

func (c *poolClient) Allocate(size uintptr) (unsafe.Pointer, error) {
	req := &allocRequest{Size: size}
	resp := &allocResponse{}
	if err := c.client.Call("poolServer.Allocate", req, resp); err != nil {
		return nil, errors.Wrap(err, "rpc allocate")
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}

	c.mu.Lock()
	c.allocated[resp.Addr] = size
	c.mu.Unlock()

	return unsafe.Pointer(resp.Addr), nil
}

func (c *poolClient) Free(ptr unsafe.Pointer, size uintptr) error {
	req := &freeRequest{Addr: uintptr(ptr), Size: size}
	resp := &freeResponse{}
	if err := c.client.Call("poolServer.Free", req, resp); err != nil {
		return errors.Wrap(err, "rpc free")
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}

	c.mu.Lock()
	delete(c.allocated, uintptr(ptr))
	c.mu.Unlock()
	return nil
}

func (c *poolClient) Stats() (mmapalloc.Stats, error) {
	var st mmapalloc.Stats
	if err := c.client.Call("poolServer.Stats", &struct{}{}, &st); err != nil {
		return st, errors.Wrap(err, "rpc stats")
	}
	return st, nil
}

func (c *poolClient) Close() error {
	return c.client.Close()
}
