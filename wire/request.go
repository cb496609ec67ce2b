package wire

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Request is an outgoing request: method, target, headers and an
// optional body.
type Request struct {
	Method  string
	Target  string
	Version Version
	Headers Headers

	Body io.Reader
}

func NewRequest(method, target string, headers Headers, body io.Reader) *Request {
	return &Request{
		Method:  method,
		Target:  target,
		Version: Version11,
		Headers: headers,
		Body:    body,
	}
}

// RequestEncoder serializes requests onto a writer through a buffered
// proxy of a fixed size.
type RequestEncoder struct {
	bw *bufio.Writer
}

func NewRequestEncoder(w io.Writer, bufSize uint) *RequestEncoder {
	return &RequestEncoder{bw: bufio.NewWriterSize(w, int(bufSize))}
}

func (re *RequestEncoder) Encode(request *Request) error {
	if err := re.encodeRequestLine(request); err != nil {
		return errors.Wrap(err, "encoding request line")
	}

	for _, field := range request.Headers.Fields() {
		if err := re.writeLine(field.Text()); err != nil {
			return errors.Wrap(err, "writing field")
		}
	}

	// An empty line terminates the head.
	if err := re.writeLine(nil); err != nil {
		return errors.Wrap(err, "writing head terminator")
	}

	// Flush the head before the body.
	if err := re.bw.Flush(); err != nil {
		return errors.Wrap(err, "flushing request line & headers")
	}

	if request.Body != nil {
		if _, err := re.bw.ReadFrom(request.Body); err != nil {
			return errors.Wrap(err, "writing request body")
		}
	}

	if err := re.bw.Flush(); err != nil {
		return errors.Wrap(err, "flushing request body")
	}

	return nil
}

func (re *RequestEncoder) encodeRequestLine(request *Request) error {
	buf := bytes.NewBuffer(nil)

	buf.WriteString(request.Method)
	buf.WriteByte(sp)
	buf.WriteString(request.Target)
	buf.WriteByte(sp)
	buf.Write(request.Version.Text())

	return re.writeLine(buf.Bytes())
}

func (re *RequestEncoder) writeLine(line []byte) error {
	if _, err := re.bw.Write(line); err != nil {
		return errors.Wrap(err, "writing line")
	}

	if _, err := re.bw.Write(crlf); err != nil {
		return errors.Wrap(err, "writing line terminator")
	}

	return nil
}

// Bytes serializes the whole request, body included, into memory.
// The cooperative execution path writes from this snapshot so partial
// writes can resume without re-reading the body.
func (r *Request) Bytes(bufSize uint) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := NewRequestEncoder(buf, bufSize).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
