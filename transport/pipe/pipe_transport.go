package pipe

import (
	"context"
	"sync"

	"httpexec/transport"

	"github.com/pkg/errors"
)

var (
	ErrNoListener     = errors.New("no listener on address")
	ErrListenerClosed = errors.New("listener is closed")
	ErrAddrInUse      = errors.New("address already in use")
)

// Transport dials in-memory connections to registered listeners.
type Transport struct {
	listeners map[Addr]*Listener
	bufSize   uint

	mu sync.Mutex
}

var _ transport.ConnDialer = (*Transport)(nil)

func NewTransport(bufSize uint) *Transport {
	return &Transport{
		listeners: make(map[Addr]*Listener),
		bufSize:   bufSize,
	}
}

func (t *Transport) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	pipeAddr, ok := addr.(Addr)
	if !ok {
		return nil, errors.Errorf("not a pipe address: %s", addr)
	}

	t.mu.Lock()
	listener, ok := t.listeners[pipeAddr]
	t.mu.Unlock()

	if !ok {
		return nil, ErrNoListener
	}

	c1, c2 := NewPair("dialer", pipeAddr.Name, t.bufSize)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-listener.closed:
		return nil, ErrListenerClosed
	case listener.requests <- c2:
	}

	return c1, nil
}

func (t *Transport) Listen(addr Addr) (*Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.listeners[addr]; ok {
		return nil, ErrAddrInUse
	}

	l := &Listener{
		addr:      addr,
		transport: t,
		requests:  make(chan *Pipe),
		closed:    make(chan struct{}),
	}
	t.listeners[addr] = l

	return l, nil
}

type Listener struct {
	addr      Addr
	transport *Transport

	requests chan *Pipe
	closed   chan struct{}

	once sync.Once
}

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, ErrListenerClosed
	case conn := <-l.requests:
		return conn, nil
	}
}

func (l *Listener) Close() error {
	l.once.Do(func() {
		close(l.closed)

		l.transport.mu.Lock()
		delete(l.transport.listeners, l.addr)
		l.transport.mu.Unlock()
	})
	return nil
}
