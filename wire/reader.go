package wire

import (
	"bytes"
	"io"

	"httpexec/transport"

	"github.com/pkg/errors"
)

// Parse codes reported through [ErrorInfo.ParseCode].
// Zero means the head was parsed successfully.
const (
	ParseCodeNone = 0 + iota
	ParseCodeMalformedStatusLine
	ParseCodeMalformedHeader
	ParseCodeHeadTooLarge
)

// ErrorInfo classifies a failed head read. ParseCode is non-zero for
// malformed or oversized framing; IOStatus is negative when the
// transport failed or closed before the head terminator.
type ErrorInfo struct {
	ParseCode int
	IOStatus  int
	Cause     error
}

func (e ErrorInfo) OK() bool { return e.ParseCode == 0 && e.IOStatus >= 0 }

// Result is a parsed response head plus the window of body bytes that
// were pulled into the shared buffer past the head terminator.
type Result struct {
	StatusLine
	Headers Headers

	// [BodyStart, BodyEnd) delimits over-read body bytes in the
	// shared buffer.
	BodyStart, BodyEnd int
}

var headTerminator = []byte("\r\n\r\n")

// HeadersReader reads a response head off a connection into a shared
// buffer, bounded by maxHeadSize. The reader keeps its progress
// between calls, so [HeadersReader.Poll] can resume after a would-block.
//
// A reader is owned by exactly one in-flight exchange.
type HeadersReader struct {
	buf         []byte
	maxHeadSize uint

	filled  int
	scanned int // bytes already searched for the terminator.
}

func NewHeadersReader(buf []byte, maxHeadSize uint) *HeadersReader {
	return &HeadersReader{buf: buf, maxHeadSize: maxHeadSize}
}

// Buffer exposes the shared buffer for the body stream built on top of
// the returned window.
func (hr *HeadersReader) Buffer() []byte { return hr.buf }

// ReadHeaders reads and parses the response head, blocking until it is
// complete or failed. The connection must be in blocking read mode.
func (hr *HeadersReader) ReadHeaders(r io.Reader) (Result, ErrorInfo) {
	result, errInfo, wouldBlock := hr.Poll(r)
	if wouldBlock {
		// A blocking connection must not report would-block.
		return Result{}, ErrorInfo{IOStatus: -1, Cause: transport.ErrWouldBlock}
	}
	return result, errInfo
}

// Poll makes at most one read attempt towards a parsed head.
// wouldBlock is reported when the connection is in non-blocking mode
// and has no data yet; calling Poll again resumes where it stopped.
func (hr *HeadersReader) Poll(r io.Reader) (_ Result, _ ErrorInfo, wouldBlock bool) {
	for {
		if idx := hr.findTerminator(); idx >= 0 {
			return hr.finish(idx)
		}

		if uint(hr.filled) >= hr.maxHeadSize || hr.filled == len(hr.buf) {
			// Oversized heads fail, they are never truncated.
			return Result{}, ErrorInfo{ParseCode: ParseCodeHeadTooLarge}, false
		}

		n, err := r.Read(hr.buf[hr.filled:])
		hr.filled += n

		if errors.Is(err, transport.ErrWouldBlock) {
			return Result{}, ErrorInfo{}, true
		}
		if err != nil {
			// A reader may deliver the final bytes together with its
			// error; a head completed by them still parses.
			if idx := hr.findTerminator(); idx >= 0 {
				return hr.finish(idx)
			}
			return Result{}, ErrorInfo{IOStatus: -1, Cause: err}, false
		}
	}
}

// finish parses the complete head ending at idx and delimits the
// over-read body window.
func (hr *HeadersReader) finish(idx int) (Result, ErrorInfo, bool) {
	result, code := hr.parseHead(hr.buf[:idx])
	if code != ParseCodeNone {
		return Result{}, ErrorInfo{ParseCode: code}, false
	}

	result.BodyStart = idx + len(headTerminator)
	result.BodyEnd = hr.filled
	return result, ErrorInfo{}, false
}

func (hr *HeadersReader) findTerminator() int {
	// Rescan a few bytes back in case the terminator straddles reads.
	from := max(hr.scanned-len(headTerminator)+1, 0)

	idx := bytes.Index(hr.buf[from:hr.filled], headTerminator)
	hr.scanned = hr.filled
	if idx < 0 {
		return -1
	}
	return from + idx
}

func (hr *HeadersReader) parseHead(head []byte) (Result, int) {
	lines := bytes.Split(head, crlf)

	statusLine, err := parseStatusLine(lines[0])
	if err != nil {
		return Result{}, ParseCodeMalformedStatusLine
	}

	fields := make([]Field, 0, len(lines)-1)
	for _, line := range lines[1:] {
		field, err := ParseField(line)
		if err != nil {
			return Result{}, ParseCodeMalformedHeader
		}
		fields = append(fields, field)
	}

	return Result{
		StatusLine: statusLine,
		Headers:    NewHeaders(fields),
	}, ParseCodeNone
}
