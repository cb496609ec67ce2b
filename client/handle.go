package client

import "httpexec/transport"

// Handle is the capability set the base orchestrator depends on.
// HTTP-specific behavior lives on the concrete [*ConnHandle] and is
// reached via a checked type assertion, never an unchecked cast.
type Handle interface {
	Connection() transport.Conn
	Invalidate()
}

// ConnHandle scopes one pooled connection to one logical attempt.
// It must not be shared between concurrent exchanges.
type ConnHandle struct {
	provider ConnProvider
	conn     transport.Conn

	valid               bool
	invalidateOnDestroy bool
}

var _ Handle = (*ConnHandle)(nil)

func newConnHandle(provider ConnProvider, conn transport.Conn) *ConnHandle {
	return &ConnHandle{
		provider: provider,
		conn:     conn,
		valid:    true,
	}
}

// Connection returns the held transport connection, nil if the handle
// was never bound.
func (h *ConnHandle) Connection() transport.Conn { return h.conn }

// Invalidate evicts the connection from future reuse. Idempotent: the
// provider is notified at most once. Once invalid, the handle must not
// be used for I/O again.
func (h *ConnHandle) Invalidate() {
	if !h.valid {
		return
	}
	h.valid = false

	if h.conn != nil {
		h.provider.Invalidate(h.conn)
	}
}

// SetInvalidateOnDestroy records that closing the handle should evict
// the connection instead of handing it back to the pool. Used when the
// peer declared the connection is not to be kept alive.
func (h *ConnHandle) SetInvalidateOnDestroy(invalidate bool) {
	h.invalidateOnDestroy = invalidate
}

// Close ends the attempt's scope: with invalidate-on-destroy set it
// invalidates (at most once), otherwise a still-valid connection is
// handed back to the provider for reuse. Idempotent.
func (h *ConnHandle) Close() error {
	if h.invalidateOnDestroy {
		h.Invalidate()
		return nil
	}

	if h.valid {
		h.valid = false
		if h.conn != nil {
			h.provider.Release(h.conn)
		}
	}
	return nil
}
