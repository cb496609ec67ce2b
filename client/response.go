package client

import (
	"io"

	"httpexec/wire"
)

// Response is a received response head plus a lazily readable body.
// The body first yields the bytes over-read into the shared buffer
// during head parsing, then continues from the live connection.
type Response struct {
	StatusCode int
	Reason     string
	Headers    wire.Headers

	Body io.Reader
}

func newResponse(result wire.Result, conn io.Reader, buf []byte) *Response {
	return &Response{
		StatusCode: result.StatusCode,
		Reason:     result.Reason,
		Headers:    result.Headers,
		Body:       wire.NewBodyReader(conn, buf, result.BodyStart, result.BodyEnd),
	}
}
