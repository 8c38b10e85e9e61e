package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRPCClientServerConcurrentClients(t *testing.T) {
	server, err := newPoolServer()
	require.NoError(t, err)

	addr := "localhost:51299"
	go func() {
		_ = server.Serve(addr)
	}()
	time.Sleep(100 * time.Millisecond)

	const numClients = 5
	done := make(chan error, numClients)

	for i := 0; i < numClients; i++ {
		go func(id int) {
			client, err := newPoolClient(id, addr)
			if err != nil {
				done <- err
				return
			}
			defer client.Close()

			ptr, err := client.Allocate(1024 * 1024)
			if err != nil {
				done <- err
				return
			}

			time.Sleep(10 * time.Millisecond)

			done <- client.Free(ptr, 1024*1024)
		}(i)
	}

	for i := 0; i < numClients; i++ {
		require.NoError(t, <-done)
	}

	server.Close()
}
