package wire

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	sp = ' '
	cr = '\r'
	lf = '\n'
)

var crlf = []byte{cr, lf}

// ows holds the optional-whitespace characters of RFC 9110.
var ows = []byte{' ', '\t'}

// [Major, Minor]
type Version [2]uint

// ParseVersion parses http version text(e.g. "HTTP/1.1") into [Version].
func ParseVersion(b []byte) (Version, error) {
	prefix := []byte("HTTP/")
	if !bytes.HasPrefix(b, prefix) {
		return Version{}, errors.Errorf("http version prefix not found: %s", b)
	}

	first, second, found := bytes.Cut(b[len(prefix):], []byte{'.'})
	if !found {
		return Version{}, errors.Errorf("dot seperator not found on version: %s", b)
	}

	major, err1 := strconv.ParseUint(string(first), 10, 64)
	minor, err2 := strconv.ParseUint(string(second), 10, 64)
	if err1 != nil || err2 != nil {
		return Version{}, errors.Errorf("http version is not convertable to int: %s", b)
	}

	return Version{uint(major), uint(minor)}, nil
}

func (ver Version) Text() []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write([]byte("HTTP/"))
	buf.Write([]byte(strconv.FormatUint(uint64(ver[0]), 10)))
	buf.Write([]byte{'.'})
	buf.Write([]byte(strconv.FormatUint(uint64(ver[1]), 10)))
	return buf.Bytes()
}

func (ver Version) String() string { return string(ver.Text()) }

// Version11 is the only version this engine speaks.
var Version11 = Version{1, 1}

type Field struct{ Name, Value string }

func ParseField(fieldLine []byte) (Field, error) {
	name, value, found := bytes.Cut(fieldLine, []byte{':'})
	if !found {
		return Field{}, errors.Errorf("colon seperator not found on header: %q", string(fieldLine))
	}

	// No whitespace is allowed between field name and colon.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-2
	for _, c := range ows {
		if bytes.HasSuffix(name, []byte{c}) {
			return Field{}, errors.New("field name has trailing whitespace")
		}
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-3
	for _, c := range ows {
		value = bytes.Trim(value, string([]byte{c}))
	}

	return Field{Name: string(name), Value: string(value)}, nil
}

func (f Field) Text() []byte {
	buf := bytes.NewBuffer(nil)
	buf.WriteString(f.Name)
	buf.Write([]byte(": "))
	buf.WriteString(f.Value)
	return buf.Bytes()
}

// StatusLine is a parsed response starting line.
type StatusLine struct {
	Version    Version
	StatusCode int
	Reason     string
}

func parseStatusLine(line []byte) (StatusLine, error) {
	parts := bytes.SplitN(line, []byte{sp}, 3)
	if len(parts) < 2 {
		return StatusLine{}, errors.New("status line is malformed")
	}

	ver, err := ParseVersion(parts[0])
	if err != nil {
		return StatusLine{}, errors.Wrap(err, "parsing version")
	}

	statusCodeStr := string(parts[1])
	statusCode, err := strconv.ParseUint(statusCodeStr, 10, 64)
	if err != nil || len(statusCodeStr) != 3 {
		return StatusLine{}, errors.Errorf("status code is malformed: %q", statusCodeStr)
	}

	// reason-phrase is optional.
	var reason string
	if len(parts) == 3 {
		reason = string(parts[2])
	}

	return StatusLine{Version: ver, StatusCode: int(statusCode), Reason: reason}, nil
}

// EqualValueFold reports whether a header value equals the given token
// case-insensitively, ignoring surrounding optional whitespace.
func EqualValueFold(value, token string) bool {
	return strings.EqualFold(strings.Trim(value, " \t"), token)
}
