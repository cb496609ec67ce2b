package client

import (
	"io"

	"httpexec/retry"
	"httpexec/sched"
	"httpexec/transport"
	"httpexec/wire"

	"github.com/pkg/errors"
)

// Call is an asynchronous execution in flight. Result may only be
// called after Done fired.
type Call struct {
	done chan struct{}

	res    *Response
	err    error
	handle *ConnHandle
}

func newCall() *Call {
	return &Call{done: make(chan struct{})}
}

func (c *Call) Done() <-chan struct{} { return c.done }

func (c *Call) Result() (*Response, error) { return c.res, c.err }

// Release ends the scope of a call started by ExecuteAsync, once the
// body is consumed: it drops the over-read window and closes the
// handle the orchestrator acquired. For calls on caller-owned handles
// (ExecuteOnceAsync) it is a no-op.
func (c *Call) Release() error {
	if c.handle == nil {
		return nil
	}
	return releaseFunc(c.res, c.handle)()
}

// HandleCall is an asynchronous connection acquire in flight.
type HandleCall struct {
	done chan struct{}

	handle *ConnHandle
	err    error
}

func (c *HandleCall) Done() <-chan struct{} { return c.done }

func (c *HandleCall) Result() (*ConnHandle, error) { return c.handle, c.err }

// GetConnectionAsync acquires a handle cooperatively: the task
// suspends until the provider produces a connection.
func (e *Executor) GetConnectionAsync(s *sched.Scheduler) *HandleCall {
	call := &HandleCall{done: make(chan struct{})}
	task := &getConnTask{provider: e.provider}

	s.Submit(task, func(err error) {
		call.handle, call.err = task.handle, err
		close(call.done)
	})
	return call
}

type getConnTask struct {
	provider ConnProvider

	pending *PendingConn
	handle  *ConnHandle
}

func (t *getConnTask) Step() sched.Action {
	if t.pending == nil {
		t.pending = t.provider.GetAsync()
		return sched.Await(t.pending.Ready())
	}

	conn, err := t.pending.Result()
	if err != nil {
		return sched.Fail(errors.Wrapf(ErrCannotConnect, "provider failed to provide connection: %v", err))
	}

	t.handle = newConnHandle(t.provider, conn)
	return sched.Done()
}

// No handle exists on this task's failure path, so there is nothing to
// invalidate.
func (t *getConnTask) HandleError(err error) error { return err }

// ExecuteOnceAsync performs the same exchange as ExecuteOnce as a
// sequence of suspendable steps; the calling goroutine never blocks on
// I/O. The caller owns the handle and closes it once the body is
// consumed.
func (e *Executor) ExecuteOnceAsync(
	s *sched.Scheduler,
	method, path string,
	headers wire.Headers,
	body io.Reader,
	h Handle,
) *Call {
	call := newCall()
	httpH, _ := h.(*ConnHandle)

	task := newExecuteTask(e, method, path, headers, body, httpH)
	s.Submit(task, func(err error) {
		call.res = task.res
		call.err = err
		close(call.done)
	})
	return call
}

type execState uint8

const (
	execStateStart execState = iota
	execStateSend
	execStateReadHeaders
)

// executeTask is one request/response exchange as an explicit state
// machine: start (bind connection, serialize request) → send (resumes
// on write readiness after partial writes) → readHeaders (resumes on
// read readiness after partial reads, then builds the response).
type executeTask struct {
	exec *Executor

	method, path string
	headers      wire.Headers
	body         io.Reader
	handle       *ConnHandle

	conn   transport.AsyncConn
	out    []byte
	sent   int
	reader *wire.HeadersReader

	res   *Response
	state execState
}

var _ sched.Task = (*executeTask)(nil)

func newExecuteTask(
	e *Executor,
	method, path string,
	headers wire.Headers,
	body io.Reader,
	handle *ConnHandle,
) *executeTask {
	return &executeTask{
		exec:    e,
		method:  method,
		path:    path,
		headers: headers,
		body:    body,
		handle:  handle,
	}
}

func (t *executeTask) Step() sched.Action {
	switch t.state {
	case execStateStart:
		return t.start()
	case execStateSend:
		return t.send()
	case execStateReadHeaders:
		return t.readHeaders()
	}
	return sched.Fail(errors.Errorf("invalid executor state: %d", t.state))
}

// HandleError is the uniform interceptor: whichever step an error came
// from (including failures raised outside the engine's own
// classification, e.g. a reset transport), the connection is
// invalidated before the error reaches the caller. With no handle
// there is nothing to invalidate.
func (t *executeTask) HandleError(err error) error {
	if t.handle != nil {
		t.handle.Invalidate()
	}
	return err
}

func (t *executeTask) start() sched.Action {
	var conn transport.Conn
	if t.handle != nil {
		conn = t.handle.Connection()
	}
	if conn == nil {
		return sched.Fail(errors.Wrap(ErrCannotConnect, "connection is nil"))
	}

	ac, ok := conn.(transport.AsyncConn)
	if !ok {
		return sched.Fail(errors.Wrap(ErrCannotConnect, "connection does not support cooperative io"))
	}

	ac.SetReadMode(transport.NonBlocking)
	ac.SetWriteMode(transport.NonBlocking)

	request := t.exec.buildRequest(t.method, t.path, t.headers, t.body)

	out, err := request.Bytes(t.exec.opts.IOBufferSize)
	if err != nil {
		return sched.Fail(errors.Wrapf(ErrCannotWriteRequest, "%v", err))
	}

	t.conn = ac
	t.out = out
	t.reader = wire.NewHeadersReader(make([]byte, t.exec.opts.IOBufferSize), t.exec.opts.MaxHeadSize)

	t.state = execStateSend
	return sched.Continue()
}

func (t *executeTask) send() sched.Action {
	for t.sent < len(t.out) {
		n, err := t.conn.Write(t.out[t.sent:])
		t.sent += n

		if errors.Is(err, transport.ErrWouldBlock) {
			return sched.Await(t.conn.WriteReady())
		}
		if err != nil {
			return sched.Fail(errors.Wrapf(ErrCannotWriteRequest, "%v", err))
		}
	}

	t.state = execStateReadHeaders
	return sched.Continue()
}

func (t *executeTask) readHeaders() sched.Action {
	result, errInfo, wouldBlock := t.reader.Poll(t.conn)
	if wouldBlock {
		return sched.Await(t.conn.ReadReady())
	}

	if errInfo.ParseCode != wire.ParseCodeNone {
		return sched.Fail(errors.Wrapf(ErrCannotParseStartingLine, "parse code %d", errInfo.ParseCode))
	}
	if errInfo.IOStatus < 0 {
		return sched.Fail(errors.Wrapf(ErrCannotReadResponse, "%v", errInfo.Cause))
	}

	if v, ok := result.Headers.Get(headerConnection); ok && wire.EqualValueFold(v, valueClose) {
		t.handle.SetInvalidateOnDestroy(true)
	}

	// The body is consumed from the caller's goroutine.
	t.conn.SetReadMode(transport.Blocking)
	t.conn.SetWriteMode(transport.Blocking)

	t.res = newResponse(result, t.conn, t.reader.Buffer())
	return sched.Done()
}

// ExecuteAsync is the cooperative variant of Execute: the retry
// orchestration itself runs as a task, with backoffs spent suspended
// on a clock-fired channel rather than sleeping a worker.
func (e *Executor) ExecuteAsync(
	s *sched.Scheduler,
	method, path string,
	headers wire.Headers,
	body io.Reader,
) *Call {
	call := newCall()

	// Snapshot the body once; retried attempts resend it identically.
	data, err := readBody(body)
	if err != nil {
		call.err = err
		close(call.done)
		return call
	}

	task := &executeAsyncTask{
		exec:    e,
		sched:   s,
		method:  method,
		path:    path,
		headers: headers,
		body:    data,
	}

	s.Submit(task, func(err error) {
		call.res = task.res
		call.handle = task.handle
		call.err = err
		close(call.done)
	})
	return call
}

type asyncExecState uint8

const (
	asyncExecAcquire asyncExecState = iota
	asyncExecAttempt
)

type executeAsyncTask struct {
	exec  *Executor
	sched *sched.Scheduler

	method, path string
	headers      wire.Headers
	body         []byte

	attempt int
	pending *PendingConn

	inner       *executeTask
	attemptDone chan struct{}
	attemptErr  error

	res    *Response
	handle *ConnHandle

	state asyncExecState
}

var _ sched.Task = (*executeAsyncTask)(nil)

func (t *executeAsyncTask) Step() sched.Action {
	switch t.state {
	case asyncExecAcquire:
		return t.acquire()
	case asyncExecAttempt:
		return t.afterAttempt()
	}
	return sched.Fail(errors.Errorf("invalid orchestrator state: %d", t.state))
}

// Attempt failures are already intercepted (and the attempt's handle
// invalidated) by the inner task; acquire failures have no handle.
func (t *executeAsyncTask) HandleError(err error) error { return err }

func (t *executeAsyncTask) acquire() sched.Action {
	if t.pending == nil {
		t.pending = t.exec.provider.GetAsync()
		return sched.Await(t.pending.Ready())
	}

	conn, err := t.pending.Result()
	t.pending = nil

	if err != nil {
		return t.decide(nil, errors.Wrapf(ErrCannotConnect, "provider failed to provide connection: %v", err))
	}

	h := newConnHandle(t.exec.provider, conn)
	t.inner = newExecuteTask(t.exec, t.method, t.path, t.headers, bodyReader(t.body), h)

	t.attemptDone = make(chan struct{})
	t.sched.Submit(t.inner, func(err error) {
		t.attemptErr = err
		close(t.attemptDone)
	})

	t.state = asyncExecAttempt
	return sched.Await(t.attemptDone)
}

func (t *executeAsyncTask) afterAttempt() sched.Action {
	inner, err := t.inner, t.attemptErr
	t.inner, t.attemptDone = nil, nil

	return t.decide(inner, err)
}

func (t *executeAsyncTask) decide(inner *executeTask, err error) sched.Action {
	a := retry.Attempt{N: t.attempt, Err: err}
	if err == nil {
		a.StatusCode = inner.res.StatusCode
	}

	switch {
	case err == nil && !t.exec.policy.Decide(a):
		t.res, t.handle = inner.res, inner.handle
		return sched.Done()

	case err == nil:
		// Superseded by a retry; the connection is mid-body.
		inner.handle.Invalidate()

	case !t.exec.policy.Decide(a):
		return sched.Fail(err)
	}

	t.exec.logger.Debug("retrying attempt",
		"attempt", t.attempt, "status", a.StatusCode, "error", err)

	d := t.exec.policy.Wait(a)
	t.attempt++
	t.state = asyncExecAcquire

	if d <= 0 {
		return sched.Continue()
	}

	backoff := make(chan struct{})
	t.exec.clock.AfterFunc(d, func() { close(backoff) })
	return sched.Await(backoff)
}
