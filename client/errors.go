package client

import "github.com/pkg/errors"

// Stable, caller-visible failure classification. Callers match with
// errors.Is; wrapped context carries the underlying cause.
var (
	// ErrCannotConnect: the provider failed to produce a connection,
	// or a handle resolved to no connection at attempt time.
	ErrCannotConnect = errors.New("cannot connect")

	// ErrCannotWriteRequest: the transport failed while the request
	// was being written or flushed.
	ErrCannotWriteRequest = errors.New("cannot write request")

	// ErrCannotParseStartingLine: malformed or unexpected response
	// framing.
	ErrCannotParseStartingLine = errors.New("cannot parse response starting line")

	// ErrCannotReadResponse: the peer closed, reset, or the transport
	// failed while the response head was being read.
	ErrCannotReadResponse = errors.New("cannot read response")
)
