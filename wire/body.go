package wire

import (
	"io"

	"httpexec/transport"

	"github.com/pkg/errors"
)

// BodyReader streams a response body: first the bytes that were
// over-read into the shared buffer while parsing the head, then the
// live connection. A closed connection reads as a clean end of body.
type BodyReader struct {
	conn io.Reader

	buf      []byte
	pos, end int
}

func NewBodyReader(conn io.Reader, buf []byte, start, end int) *BodyReader {
	return &BodyReader{conn: conn, buf: buf, pos: start, end: end}
}

// Buffered reports how many over-read bytes are still pending.
func (br *BodyReader) Buffered() int { return br.end - br.pos }

// DiscardBuffered drops any remaining over-read bytes without touching
// the connection.
func (br *BodyReader) DiscardBuffered() { br.pos = br.end }

func (br *BodyReader) Read(p []byte) (n int, err error) {
	if br.pos < br.end {
		n = copy(p, br.buf[br.pos:br.end])
		br.pos += n
		return n, nil
	}

	n, err = br.conn.Read(p)
	if errors.Is(err, transport.ErrConnClosed) {
		return n, io.EOF
	}
	return n, err
}
