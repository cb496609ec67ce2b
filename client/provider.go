package client

import (
	"context"

	"httpexec/transport"
)

// ConnProvider creates and recycles transport connections. It is the
// only collaborator with cross-exchange shared state; the engine
// touches it through these operations alone.
type ConnProvider interface {
	// Get acquires a connection, blocking until one is available or
	// ctx is done.
	Get(ctx context.Context) (transport.Conn, error)

	// GetAsync starts an acquire; the returned PendingConn's readiness
	// channel fires on completion.
	GetAsync() *PendingConn

	// Release hands a reusable connection back to the pool.
	Release(conn transport.Conn)

	// Invalidate evicts a connection from future reuse.
	Invalidate(conn transport.Conn)

	// Property returns a configured property, e.g. "host" for the
	// Host header.
	Property(name string) string
}

// PendingConn is an acquire in flight. Result may only be called after
// Ready fired.
type PendingConn struct {
	ready chan struct{}

	conn transport.Conn
	err  error
}

func newPendingConn() *PendingConn {
	return &PendingConn{ready: make(chan struct{})}
}

func (p *PendingConn) complete(conn transport.Conn, err error) {
	p.conn, p.err = conn, err
	close(p.ready)
}

func (p *PendingConn) Ready() <-chan struct{} { return p.ready }

func (p *PendingConn) Result() (transport.Conn, error) { return p.conn, p.err }

// PropertyHost is the provider property holding the value for
// injected Host headers.
const PropertyHost = "host"
