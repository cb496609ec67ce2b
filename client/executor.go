package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"httpexec/retry"
	"httpexec/transport"
	"httpexec/wire"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

const (
	headerHost       = "Host"
	headerConnection = "Connection"

	valueKeepAlive = "keep-alive"
	valueClose     = "close"
)

// Executor runs logical HTTP/1.1 calls as one or more single-attempt
// exchanges over connections from a provider. The retry policy only
// decides between attempts; a single attempt never retries internally.
type Executor struct {
	provider ConnProvider
	policy   retry.Policy

	logger *slog.Logger
	clock  clock.Clock

	opts Options
}

func NewExecutor(
	provider ConnProvider,
	policy retry.Policy,
	logger *slog.Logger,
	clock clock.Clock,
	opts Options,
) *Executor {
	if policy == nil {
		policy = retry.Never
	}

	return &Executor{
		provider: provider,
		policy:   policy,
		logger:   logger,
		clock:    clock,
		opts:     opts.withDefaults(),
	}
}

// GetConnection acquires a connection from the provider and scopes it
// into a handle for one attempt.
func (e *Executor) GetConnection(ctx context.Context) (*ConnHandle, error) {
	conn, err := e.provider.Get(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrCannotConnect, "provider failed to provide connection: %v", err)
	}
	return newConnHandle(e.provider, conn), nil
}

// InvalidateConnection forces eviction of a handle's connection
// outside the normal flow.
func (e *Executor) InvalidateConnection(h Handle) {
	if h != nil {
		h.Invalidate()
	}
}

// ExecuteOnce performs one full request/response exchange, blocking
// the calling goroutine on I/O. The caller owns the handle: it must
// close it once the response body is consumed.
//
// Every failure after the connection resolved invalidates it; the
// classified error kinds are the package sentinels.
func (e *Executor) ExecuteOnce(
	method, path string,
	headers wire.Headers,
	body io.Reader,
	h Handle,
) (*Response, error) {
	httpH, _ := h.(*ConnHandle)

	var conn transport.Conn
	if httpH != nil {
		conn = httpH.Connection()
	}
	if conn == nil {
		return nil, errors.Wrap(ErrCannotConnect, "connection is nil")
	}

	conn.SetReadMode(transport.Blocking)
	conn.SetWriteMode(transport.Blocking)

	request := e.buildRequest(method, path, headers, body)

	enc := wire.NewRequestEncoder(conn, e.opts.IOBufferSize)
	if err := enc.Encode(request); err != nil {
		httpH.Invalidate()
		return nil, errors.Wrapf(ErrCannotWriteRequest, "%v", err)
	}

	reader := wire.NewHeadersReader(make([]byte, e.opts.IOBufferSize), e.opts.MaxHeadSize)

	result, errInfo := reader.ReadHeaders(conn)
	if errInfo.ParseCode != wire.ParseCodeNone {
		httpH.Invalidate()
		return nil, errors.Wrapf(ErrCannotParseStartingLine, "parse code %d", errInfo.ParseCode)
	}
	if errInfo.IOStatus < 0 {
		httpH.Invalidate()
		return nil, errors.Wrapf(ErrCannotReadResponse, "%v", errInfo.Cause)
	}

	if v, ok := result.Headers.Get(headerConnection); ok && wire.EqualValueFold(v, valueClose) {
		// The peer won't keep the connection alive. Evict it once the
		// attempt's scope ends instead of returning it to the pool.
		httpH.SetInvalidateOnDestroy(true)
	}

	return newResponse(result, conn, reader.Buffer()), nil
}

// buildRequest injects Host and Connection only if the caller did not
// already supply them. First write wins, never overwritten.
func (e *Executor) buildRequest(method, path string, headers wire.Headers, body io.Reader) *wire.Request {
	request := wire.NewRequest(method, path, wire.NewHeaders(headers.Fields()), body)
	request.Headers.SetIfAbsent(headerHost, e.provider.Property(PropertyHost))
	request.Headers.SetIfAbsent(headerConnection, valueKeepAlive)
	return request
}

// Execute runs one logical call: acquire a fresh handle per attempt,
// perform the exchange, and consult the retry policy on classified
// failures (or on responses the policy rejects, e.g. throttling
// statuses). On success release must be called once the body is
// consumed; it ends the handle's scope, returning the connection for
// reuse or evicting it when the peer declared close.
func (e *Executor) Execute(
	ctx context.Context,
	method, path string,
	headers wire.Headers,
	body io.Reader,
) (_ *Response, release func() error, _ error) {
	// The body is snapshotted once, so retried attempts resend it
	// identically instead of re-reading a drained reader.
	data, err := readBody(body)
	if err != nil {
		return nil, nil, err
	}

	for attempt := 0; ; attempt++ {
		res, h, err := e.executeAttempt(ctx, method, path, headers, bodyReader(data))

		a := retry.Attempt{N: attempt, Err: err}
		if res != nil {
			a.StatusCode = res.StatusCode
		}

		switch {
		case err == nil && !e.policy.Decide(a):
			return res, releaseFunc(res, h), nil

		case err == nil:
			// Response superseded by a retry. The connection is
			// mid-body and must not be reused.
			h.Invalidate()

		case !e.policy.Decide(a):
			return nil, nil, err
		}

		e.logger.Debug("retrying attempt",
			"attempt", attempt, "status", a.StatusCode, "error", err)

		if werr := e.waitRetry(ctx, a); werr != nil {
			if err == nil {
				err = werr
			}
			return nil, nil, err
		}
	}
}

func (e *Executor) executeAttempt(
	ctx context.Context,
	method, path string,
	headers wire.Headers,
	body io.Reader,
) (*Response, *ConnHandle, error) {
	h, err := e.GetConnection(ctx)
	if err != nil {
		return nil, nil, err
	}

	res, err := e.ExecuteOnce(method, path, headers, body, h)
	if err != nil {
		// Already invalidated by ExecuteOnce; Close is then a no-op.
		_ = h.Close()
		return nil, nil, err
	}

	return res, h, nil
}

func (e *Executor) waitRetry(ctx context.Context, a retry.Attempt) error {
	d := e.policy.Wait(a)
	if d <= 0 {
		return ctx.Err()
	}

	t := e.clock.Timer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func readBody(body io.Reader) ([]byte, error) {
	if body == nil {
		return nil, nil
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "reading request body")
	}
	return data, nil
}

func bodyReader(data []byte) io.Reader {
	if data == nil {
		return nil
	}
	return bytes.NewReader(data)
}

// releaseFunc ends a successful attempt's scope. Consuming the body
// off the wire is the caller's job before releasing (only the caller
// knows the body framing); release drops whatever is left of the
// in-memory over-read window and closes the handle, which returns the
// connection to the pool or evicts it when the peer declared close.
// It never reads the connection, so a keep-alive release cannot block.
func releaseFunc(res *Response, h *ConnHandle) func() error {
	return func() error {
		if br, ok := res.Body.(*wire.BodyReader); ok {
			br.DiscardBuffered()
		}
		return h.Close()
	}
}
