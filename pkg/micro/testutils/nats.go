// Package testutils runs an in-process NATS server for tests that exercise the micro transport.
package testutils

import (
	"net"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// NATS bundles a running test server with a raw connection to it.
type NATS struct {
	Server *server.Server
	Client *nats.Conn

	opts *server.Options
}

// NewNATS starts a NATS server on a random port. The server and its client are shut down when the
// test finishes.
func NewNATS(t *testing.T) *NATS {
	t.Helper()

	// Uses modified values of NATS's own default test server config.
	opts := &server.Options{
		Host:                  "127.0.0.1",
		Port:                  -1, // Random available port
		NoLog:                 true,
		NoSigs:                true,
		MaxControlLine:        4096,
		DisableShortFirstPing: true,
	}
	srv := test.RunServer(opts)

	// Pin the chosen port so Restart comes back on the same address.
	if addr, ok := srv.Addr().(*net.TCPAddr); ok {
		opts.Port = addr.Port
	}

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)

	n := &NATS{Server: srv, Client: nc, opts: opts}
	t.Cleanup(func() {
		n.Client.Close()
		n.Server.Shutdown()
	})

	return n
}

// Restart shuts the server down and starts a new one on the same port, which lets tests observe
// client disconnect and reconnect handling.
func (n *NATS) Restart(t *testing.T) {
	t.Helper()

	n.Server.Shutdown()
	n.Server.WaitForShutdown()
	n.Server = test.RunServer(n.opts)
}
