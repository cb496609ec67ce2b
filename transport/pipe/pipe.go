// In-memory transport for tests. The two ends of a pair share a pair
// of bounded buffers, so non-blocking writes genuinely fill up and
// partial writes/reads are observable.
package pipe

import (
	"bytes"
	"sync"

	"httpexec/transport"
)

type Addr struct {
	Name string
}

func (a Addr) Identifier() any { return a.Name }
func (a Addr) String() string  { return a.Name }

var _ transport.Addr = Addr{}

// Pipe is one end of an in-memory connection pair.
type Pipe struct {
	addr Addr

	in  *half // peer writes here, we read from it.
	out *half // we write here, peer reads from it.

	modeMu    sync.Mutex
	readMode  transport.IOMode
	writeMode transport.IOMode

	counterpart *Pipe
}

var _ transport.AsyncConn = (*Pipe)(nil)

// NewPair creates a connected pair of pipes. bufSize bounds the byte
// buffer of each direction; writes beyond it block (or would-block).
func NewPair(name1, name2 string, bufSize uint) (c1, c2 *Pipe) {
	h1, h2 := newHalf(bufSize), newHalf(bufSize)

	c1 = &Pipe{addr: Addr{Name: name1}, in: h1, out: h2}
	c2 = &Pipe{addr: Addr{Name: name2}, in: h2, out: h1}
	c1.counterpart, c2.counterpart = c2, c1
	return
}

func (p *Pipe) LocalAddr() transport.Addr  { return p.addr }
func (p *Pipe) RemoteAddr() transport.Addr { return p.counterpart.addr }

func (p *Pipe) SetReadMode(mode transport.IOMode) {
	p.modeMu.Lock()
	defer p.modeMu.Unlock()
	p.readMode = mode
}

func (p *Pipe) SetWriteMode(mode transport.IOMode) {
	p.modeMu.Lock()
	defer p.modeMu.Unlock()
	p.writeMode = mode
}

func (p *Pipe) getModes() (r, w transport.IOMode) {
	p.modeMu.Lock()
	defer p.modeMu.Unlock()
	return p.readMode, p.writeMode
}

func (p *Pipe) Read(b []byte) (n int, err error) {
	mode, _ := p.getModes()
	return p.in.read(b, mode)
}

func (p *Pipe) Write(b []byte) (n int, err error) {
	_, mode := p.getModes()
	return p.out.write(b, mode)
}

// Close closes both directions, so the counterpart observes it too.
func (p *Pipe) Close() error {
	p.in.close()
	p.out.close()
	return nil
}

func (p *Pipe) ReadReady() <-chan struct{}  { return p.in.readReady() }
func (p *Pipe) WriteReady() <-chan struct{} { return p.out.writeReady() }

// half is one direction of a pair: a bounded buffer plus the waiters
// parked on it.
type half struct {
	mu sync.Mutex

	buf  bytes.Buffer
	size uint

	closed bool

	readers []chan struct{} // waiting for data.
	writers []chan struct{} // waiting for free space.
}

func newHalf(size uint) *half {
	return &half{size: size}
}

// firedChan is returned by readiness queries that are satisfied already.
var firedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (h *half) read(b []byte, mode transport.IOMode) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		if h.buf.Len() > 0 {
			n, _ := h.buf.Read(b) // bytes.Buffer read with data never fails.
			h.wakeWriters()
			return n, nil
		}

		if h.closed {
			return 0, transport.ErrConnClosed
		}

		if mode == transport.NonBlocking {
			return 0, transport.ErrWouldBlock
		}

		h.waitLocked(&h.readers)
	}
}

func (h *half) write(b []byte, mode transport.IOMode) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	written := 0
	for {
		if h.closed {
			return written, transport.ErrConnClosed
		}

		if space := int(h.size) - h.buf.Len(); space > 0 {
			n := min(space, len(b))
			h.buf.Write(b[:n])
			h.wakeReaders()

			written += n
			b = b[n:]

			if len(b) == 0 {
				return written, nil
			}
			continue
		}

		if mode == transport.NonBlocking {
			if written > 0 {
				// Let the caller observe progress first.
				return written, nil
			}
			return 0, transport.ErrWouldBlock
		}

		h.waitLocked(&h.writers)
	}
}

func (h *half) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	h.wakeReaders()
	h.wakeWriters()
}

func (h *half) readReady() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.buf.Len() > 0 || h.closed {
		return firedChan
	}

	ch := make(chan struct{})
	h.readers = append(h.readers, ch)
	return ch
}

func (h *half) writeReady() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.buf.Len() < int(h.size) || h.closed {
		return firedChan
	}

	ch := make(chan struct{})
	h.writers = append(h.writers, ch)
	return ch
}

// waitLocked parks until the given waiter set is woken.
// Assumes h.mu is held; reacquires it before returning.
func (h *half) waitLocked(waiters *[]chan struct{}) {
	ch := make(chan struct{})
	*waiters = append(*waiters, ch)

	h.mu.Unlock()
	<-ch
	h.mu.Lock()
}

func (h *half) wakeReaders() {
	for _, ch := range h.readers {
		close(ch)
	}
	h.readers = nil
}

func (h *half) wakeWriters() {
	for _, ch := range h.writers {
		close(ch)
	}
	h.writers = nil
}
