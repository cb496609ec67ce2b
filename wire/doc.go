// Package wire implements HTTP/1.1 framing for the request-execution
// engine: header fields, outgoing request serialization, bounded
// response-head reading, and the body stream over leftover buffered
// bytes plus the live connection.
package wire
