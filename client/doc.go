// Package client executes single HTTP/1.1 request/response exchanges
// over pooled transport connections, either blocking the calling
// goroutine or as suspendable steps on a cooperative scheduler, and
// keeps connection reuse and invalidation correct on every path.
package client
