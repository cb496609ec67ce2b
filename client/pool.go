package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"httpexec/lib/queue"
	"httpexec/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

type PoolOptions struct {
	// MaxConns caps open connections. Zero means no cap.
	MaxConns uint

	// IdleTimeout evicts connections idling longer than this.
	// Zero means idle connections never expire.
	IdleTimeout time.Duration
}

// Pool is a keep-alive connection provider over a single remote
// address. Connections handed out are owned by exactly one exchange
// until released or invalidated.
type Pool struct {
	dialer transport.ConnDialer
	addr   transport.Addr
	host   string

	clock  clock.Clock
	logger *slog.Logger

	opts PoolOptions

	mu      sync.Mutex
	idle    []idleConn
	total   uint
	waiters *queue.NaiveQueue[*poolWaiter]
}

var _ ConnProvider = (*Pool)(nil)

type idleConn struct {
	conn   transport.Conn
	idleAt time.Time
}

func NewPool(
	d transport.ConnDialer,
	addr transport.Addr,
	host string,
	logger *slog.Logger,
	clock clock.Clock,
	opts PoolOptions,
) *Pool {
	return &Pool{
		dialer:  d,
		addr:    addr,
		host:    host,
		logger:  logger,
		clock:   clock,
		opts:    opts,
		waiters: queue.NewNaive[*poolWaiter](0),
	}
}

func (p *Pool) Get(ctx context.Context) (transport.Conn, error) {
	p.mu.Lock()

	if conn, ok := p.popIdleLocked(); ok {
		p.mu.Unlock()
		return conn, nil
	}

	if p.opts.MaxConns == 0 || p.total < p.opts.MaxConns {
		p.total++
		p.mu.Unlock()
		return p.dial(ctx)
	}

	// At the cap. Wait until some exchange releases its connection.
	w := newPoolWaiter()
	p.waiters.Enqueue(w)
	p.mu.Unlock()

	select {
	case res := <-w.result:
		return res.conn, res.err
	case <-ctx.Done():
		if res, ok := w.abandon(); ok && res.err == nil {
			// Provided concurrently with cancellation. Hand it back.
			p.Release(res.conn)
		}
		return nil, ctx.Err()
	}
}

func (p *Pool) GetAsync() *PendingConn {
	pc := newPendingConn()
	go func() {
		conn, err := p.Get(context.Background())
		pc.complete(conn, err)
	}()
	return pc
}

func (p *Pool) Release(conn transport.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.waiters.Len() > 0 {
		w, _ := p.waiters.Dequeue()
		if w.provide(conn, nil) {
			return
		}
	}

	p.idle = append(p.idle, idleConn{conn: conn, idleAt: p.clock.Now()})
}

func (p *Pool) Invalidate(conn transport.Conn) {
	p.mu.Lock()

	for idx, ic := range p.idle {
		if ic.conn == conn {
			p.idle = append(p.idle[:idx], p.idle[idx+1:]...)
			break
		}
	}

	p.total--

	// Freed capacity lets a waiter dial instead of waiting for a
	// release that may never come.
	var waiter *poolWaiter
	if p.waiters.Len() > 0 {
		waiter, _ = p.waiters.Dequeue()
		p.total++
	}
	p.mu.Unlock()

	p.logger.Debug("invalidating connection", "remote", p.addr.String())

	if err := conn.Close(); err != nil {
		p.logger.Warn("closing invalidated connection", "error", err)
	}

	if waiter != nil {
		go p.dialForWaiter(waiter)
	}
}

func (p *Pool) Property(name string) string {
	if name == PropertyHost {
		return p.host
	}
	return ""
}

// Close evicts all idle connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.total -= uint(len(idle))
	p.mu.Unlock()

	for _, ic := range idle {
		if err := ic.conn.Close(); err != nil {
			return errors.Wrap(err, "closing idle connection")
		}
	}
	return nil
}

// popIdleLocked prunes expired connections and pops the most recently
// released one. Assumes p.mu is held.
func (p *Pool) popIdleLocked() (transport.Conn, bool) {
	if timeout := p.opts.IdleTimeout; timeout > 0 {
		kept := p.idle[:0]
		for _, ic := range p.idle {
			if p.clock.Since(ic.idleAt) >= timeout {
				p.total--
				_ = ic.conn.Close()
				p.logger.Debug("pruning idle connection", "remote", p.addr.String())
				continue
			}
			kept = append(kept, ic)
		}
		p.idle = kept
	}

	if len(p.idle) == 0 {
		return nil, false
	}

	last := len(p.idle) - 1
	conn := p.idle[last].conn
	p.idle = p.idle[:last]
	return conn, true
}

func (p *Pool) dial(ctx context.Context) (transport.Conn, error) {
	conn, err := p.dialer.Dial(ctx, p.addr)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, errors.Wrap(err, "dialing")
	}
	return conn, nil
}

func (p *Pool) dialForWaiter(w *poolWaiter) {
	conn, err := p.dial(context.Background())
	if !w.provide(conn, err) && err == nil {
		p.Release(conn)
	}
}

type poolResult struct {
	conn transport.Conn
	err  error
}

type poolWaiter struct {
	mu        sync.Mutex
	satisfied bool
	result    chan poolResult
}

func newPoolWaiter() *poolWaiter {
	return &poolWaiter{result: make(chan poolResult, 1)}
}

func (w *poolWaiter) provide(conn transport.Conn, err error) (success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.satisfied {
		return false
	}

	w.result <- poolResult{conn: conn, err: err}
	w.satisfied = true
	return true
}

// abandon marks the waiter as no longer interested. If a result was
// provided concurrently, it is returned so the caller can dispose of it.
func (w *poolWaiter) abandon() (poolResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.satisfied {
		w.satisfied = true
		return poolResult{}, false
	}

	select {
	case res := <-w.result:
		return res, true
	default:
		return poolResult{}, false
	}
}
