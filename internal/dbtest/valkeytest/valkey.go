package valkeytest

import (
	"context"
	"net"

	"github.com/docker/go-connections/nat"
	"github.com/valkey-io/valkey-go"

	valkeycontainer "github.com/testcontainers/testcontainers-go/modules/valkey"
	slogctx "github.com/veqryn/slog-context"
)

const Image = "valkey/valkey:8-alpine"

// Start runs a ValKey container and returns a connected client, the mapped
// port and a function terminating the container.
func Start(ctx context.Context) (valkey.Client, nat.Port, func(ctx context.Context)) {
	container, err := valkeycontainer.Run(ctx, Image)
	if err != nil {
		slogctx.Error(ctx, "Failed to start ValKey container", "error", err)
		panic(err)
	}

	port, err := container.MappedPort(ctx, nat.Port("6379"))
	if err != nil {
		slogctx.Error(ctx, "Failed to map a port for the ValKey container", "error", err)
		panic(err)
	}

	client, err := NewClient(port)
	if err != nil {
		slogctx.Error(ctx, "Failed to initialise a ValKey client", "error", err)
		panic(err)
	}

	terminate := func(ctx context.Context) {
		client.Close()

		if err := container.Terminate(ctx); err != nil {
			slogctx.Error(ctx, "Failed to terminate ValKey container", "error", err)
			panic(err)
		}
	}

	return client, port, terminate
}

// Addr is the address of the container reachable from the test process.
func Addr(port nat.Port) string {
	return net.JoinHostPort("localhost", port.Port())
}

// NewClient opens another client to the container.
func NewClient(port nat.Port) (valkey.Client, error) {
	return valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{Addr(port)},
	})
}
