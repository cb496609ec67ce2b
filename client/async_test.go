package client

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"httpexec/retry"
	"httpexec/sched"
	"httpexec/transport"
	"httpexec/wire"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *sched.Scheduler {
	t.Helper()
	s := sched.New(2, testLogger())
	t.Cleanup(s.Close)
	return s
}

func TestGetConnectionAsync(t *testing.T) {
	fp, _ := newPipeProvider("example.test", 1, 64)
	conn := fp.conns[0]
	exec := newTestExecutor(fp, nil)
	s := newTestScheduler(t)

	call := exec.GetConnectionAsync(s)
	<-call.Done()

	h, err := call.Result()
	require.NoError(t, err)
	assert.Equal(t, conn, h.Connection())
}

func TestGetConnectionAsyncProviderFailure(t *testing.T) {
	fp := &fakeProvider{getErr: assert.AnError}
	exec := newTestExecutor(fp, nil)
	s := newTestScheduler(t)

	call := exec.GetConnectionAsync(s)
	<-call.Done()

	_, err := call.Result()
	assert.ErrorIs(t, err, ErrCannotConnect)
	assert.Empty(t, fp.invalidatedConns())
}

func TestExecuteOnceAsync(t *testing.T) {
	// A tiny transfer buffer forces partial writes and reads, so the
	// exchange genuinely suspends and resumes on readiness.
	fp, servers := newPipeProvider("example.test", 1, 8)
	conn := fp.conns[0]
	exec := newTestExecutor(fp, nil)
	s := newTestScheduler(t)

	head := serve(t, servers[0], "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\nHELLO", true)

	h, err := exec.GetConnection(context.Background())
	require.NoError(t, err)

	call := exec.ExecuteOnceAsync(s, "GET", "/items", wire.Headers{}, nil, h)
	<-call.Done()

	res, err := call.Result()
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(body))

	got := <-head
	assert.Contains(t, got, "GET /items HTTP/1.1\r\n")
	assert.Contains(t, got, "\r\nHost: example.test\r\n")
	assert.Contains(t, got, "\r\nConnection: keep-alive\r\n")

	require.NoError(t, h.Close())
	assert.Equal(t, []transport.Conn{conn}, fp.invalidatedConns())
}

func TestExecuteOnceAsyncInvalidatesOnError(t *testing.T) {
	fp, servers := newPipeProvider("example.test", 1, 8)
	conn := fp.conns[0]
	exec := newTestExecutor(fp, nil)
	s := newTestScheduler(t)

	require.NoError(t, servers[0].Close())

	h, err := exec.GetConnection(context.Background())
	require.NoError(t, err)

	call := exec.ExecuteOnceAsync(s, "GET", "/", wire.Headers{}, nil, h)
	<-call.Done()

	_, err = call.Result()
	assert.ErrorIs(t, err, ErrCannotWriteRequest)

	// The interceptor evicted the connection before the error surfaced.
	assert.Equal(t, []transport.Conn{conn}, fp.invalidatedConns())
}

func TestExecuteOnceAsyncParseFailure(t *testing.T) {
	fp, servers := newPipeProvider("example.test", 1, 4096)
	conn := fp.conns[0]
	exec := newTestExecutor(fp, nil)
	s := newTestScheduler(t)

	serve(t, servers[0], "NOT-HTTP\r\n\r\n", true)

	h, err := exec.GetConnection(context.Background())
	require.NoError(t, err)

	call := exec.ExecuteOnceAsync(s, "GET", "/", wire.Headers{}, nil, h)
	<-call.Done()

	_, err = call.Result()
	assert.ErrorIs(t, err, ErrCannotParseStartingLine)
	assert.Equal(t, []transport.Conn{conn}, fp.invalidatedConns())
}

func TestExecuteOnceAsyncNilConnection(t *testing.T) {
	fp := &fakeProvider{host: "example.test"}
	exec := newTestExecutor(fp, nil)
	s := newTestScheduler(t)

	h := &ConnHandle{provider: fp, valid: true}

	call := exec.ExecuteOnceAsync(s, "GET", "/", wire.Headers{}, nil, h)
	<-call.Done()

	_, err := call.Result()
	assert.ErrorIs(t, err, ErrCannotConnect)
	assert.Empty(t, fp.invalidatedConns())
}

func TestAsyncMatchesSyncExchange(t *testing.T) {
	const raw = "HTTP/1.1 418 I'm a teapot\r\nX-Flavor: earl-grey\r\nConnection: close\r\n\r\nBODY"

	fp, servers := newPipeProvider("example.test", 2, 4096)
	exec := newTestExecutor(fp, nil)
	s := newTestScheduler(t)

	serve(t, servers[0], raw, true)
	serve(t, servers[1], raw, true)

	hSync, err := exec.GetConnection(context.Background())
	require.NoError(t, err)
	syncRes, err := exec.ExecuteOnce("GET", "/tea", wire.Headers{}, nil, hSync)
	require.NoError(t, err)

	hAsync, err := exec.GetConnection(context.Background())
	require.NoError(t, err)
	call := exec.ExecuteOnceAsync(s, "GET", "/tea", wire.Headers{}, nil, hAsync)
	<-call.Done()
	asyncRes, err := call.Result()
	require.NoError(t, err)

	assert.Equal(t, syncRes.StatusCode, asyncRes.StatusCode)
	assert.Equal(t, syncRes.Reason, asyncRes.Reason)
	assert.Equal(t, syncRes.Headers.Fields(), asyncRes.Headers.Fields())

	syncBody, err := io.ReadAll(syncRes.Body)
	require.NoError(t, err)
	asyncBody, err := io.ReadAll(asyncRes.Body)
	require.NoError(t, err)
	assert.Equal(t, syncBody, asyncBody)

	require.NoError(t, hSync.Close())
	require.NoError(t, hAsync.Close())
}

func TestExecuteAsync(t *testing.T) {
	fp, servers := newPipeProvider("example.test", 1, 4096)
	conn := fp.conns[0]
	exec := newTestExecutor(fp, nil)
	s := newTestScheduler(t)

	serve(t, servers[0], "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\nDATA!", true)

	call := exec.ExecuteAsync(s, "GET", "/", wire.Headers{}, nil)
	<-call.Done()

	res, err := call.Result()
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "DATA!", string(body))

	require.NoError(t, call.Release())
	assert.Equal(t, []transport.Conn{conn}, fp.invalidatedConns())
}

func TestExecuteAsyncReleaseKeepAlive(t *testing.T) {
	fp, servers := newPipeProvider("example.test", 1, 4096)
	conn := fp.conns[0]
	exec := newTestExecutor(fp, nil)
	s := newTestScheduler(t)

	serve(t, servers[0], "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHELLO", false)

	call := exec.ExecuteAsync(s, "GET", "/", wire.Headers{}, nil)
	<-call.Done()

	res, err := call.Result()
	require.NoError(t, err)

	body := make([]byte, 5)
	_, err = io.ReadFull(res.Body, body)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(body))

	// Release must not wait for a close that never comes.
	require.NoError(t, call.Release())
	assert.Equal(t, []transport.Conn{conn}, fp.releasedConns())
	assert.Empty(t, fp.invalidatedConns())
}

func TestExecuteAsyncResendsBodyOnRetry(t *testing.T) {
	fp, servers := newPipeProvider("example.test", 2, 4096)

	policy := retry.NewPolicy(retry.Times(1).And(retry.StatusCode(503)), retry.FixedWait(0))
	exec := newTestExecutor(fp, policy)
	s := newTestScheduler(t)

	head1 := serve(t, servers[0], "HTTP/1.1 503 Busy\r\n\r\n", false)
	head2 := serve(t, servers[1], "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\n", true)

	headers := wire.Headers{}
	headers.Add("Content-Length", "7")

	call := exec.ExecuteAsync(s, "POST", "/items", headers, strings.NewReader("PAYLOAD"))
	<-call.Done()

	res, err := call.Result()
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	require.NoError(t, call.Release())

	got := readUntilSuffix(t, servers[0], <-head1, "PAYLOAD")
	assert.True(t, strings.HasSuffix(got, "\r\n\r\nPAYLOAD"))

	got = readUntilSuffix(t, servers[1], <-head2, "PAYLOAD")
	assert.True(t, strings.HasSuffix(got, "\r\n\r\nPAYLOAD"))
}

func TestExecuteAsyncRetriesOnError(t *testing.T) {
	fp, servers := newPipeProvider("example.test", 2, 4096)
	conns := append([]transport.Conn(nil), fp.conns...)

	policy := retry.NewPolicy(retry.Times(1).And(retry.OnError()), retry.FixedWait(0))
	exec := newTestExecutor(fp, policy)
	s := newTestScheduler(t)

	require.NoError(t, servers[0].Close())
	serve(t, servers[1], "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\nOK", true)

	call := exec.ExecuteAsync(s, "GET", "/", wire.Headers{}, nil)
	<-call.Done()

	res, err := call.Result()
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	require.NoError(t, call.Release())

	assert.Equal(t, 2, fp.getCount())
	assert.Equal(t, conns, fp.invalidatedConns()) // failed, then close-flagged.
}

func TestExecuteAsyncRetriesOnStatusCode(t *testing.T) {
	fp, servers := newPipeProvider("example.test", 2, 4096)
	conns := append([]transport.Conn(nil), fp.conns...)

	policy := retry.NewPolicy(retry.Times(1).And(retry.StatusCode(503)), retry.FixedWait(0))
	exec := newTestExecutor(fp, policy)
	s := newTestScheduler(t)

	serve(t, servers[0], "HTTP/1.1 503 Busy\r\n\r\n", false)
	serve(t, servers[1], "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\n", true)

	call := exec.ExecuteAsync(s, "GET", "/", wire.Headers{}, nil)
	<-call.Done()

	res, err := call.Result()
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	require.NoError(t, call.Release())
	assert.Equal(t, conns, fp.invalidatedConns())
}

func TestExecuteAsyncExhaustsRetries(t *testing.T) {
	fp, servers := newPipeProvider("example.test", 2, 4096)

	policy := retry.NewPolicy(retry.Times(1).And(retry.OnError()), retry.FixedWait(0))
	exec := newTestExecutor(fp, policy)
	s := newTestScheduler(t)

	require.NoError(t, servers[0].Close())
	require.NoError(t, servers[1].Close())

	call := exec.ExecuteAsync(s, "GET", "/", wire.Headers{}, nil)
	<-call.Done()

	_, err := call.Result()
	assert.ErrorIs(t, err, ErrCannotWriteRequest)

	// Release on a failed call has nothing to clean up.
	require.NoError(t, call.Release())

	assert.Equal(t, 2, fp.getCount())
	assert.Len(t, fp.invalidatedConns(), 2)
}

func TestExecuteAsyncBackoffWaitsOnClock(t *testing.T) {
	fp, servers := newPipeProvider("example.test", 2, 4096)

	mock := clock.NewMock()
	policy := retry.NewPolicy(retry.Times(1).And(retry.OnError()), retry.FixedWait(time.Minute))
	exec := NewExecutor(fp, policy, testLogger(), mock, Options{})
	s := newTestScheduler(t)

	require.NoError(t, servers[0].Close())
	serve(t, servers[1], "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\n", true)

	call := exec.ExecuteAsync(s, "GET", "/", wire.Headers{}, nil)

	// The orchestrator parks on the backoff until the clock reaches it.
	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		select {
		case <-call.Done():
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	res, err := call.Result()
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	require.NoError(t, call.Release())

	assert.Equal(t, 2, fp.getCount())
}
