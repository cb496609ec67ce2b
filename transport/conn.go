package transport

import (
	"context"
	"errors"
)

var (
	ErrConnClosed = errors.New("connection is closed")

	// ErrWouldBlock is returned by Read/Write in [NonBlocking] mode
	// when the operation cannot make progress right away.
	ErrWouldBlock = errors.New("operation would block")
)

// IOMode selects how a [Conn] behaves when an operation cannot
// complete immediately.
type IOMode uint8

const (
	// Blocking makes Read/Write wait until they can make progress.
	Blocking IOMode = iota
	// NonBlocking makes Read/Write return [ErrWouldBlock] instead of waiting.
	NonBlocking
)

type Conn interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error

	SetReadMode(mode IOMode)
	SetWriteMode(mode IOMode)

	LocalAddr() Addr
	RemoteAddr() Addr
}

// AsyncConn is the capability a connection must offer to be driven by
// a cooperative scheduler. A readiness channel fires (or is closed)
// once the corresponding operation can make progress again, including
// when the connection is closed.
type AsyncConn interface {
	Conn

	ReadReady() <-chan struct{}
	WriteReady() <-chan struct{}
}

type ConnDialer interface {
	Dial(ctx context.Context, addr Addr) (Conn, error)
}
