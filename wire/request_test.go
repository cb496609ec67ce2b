package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestEncode(t *testing.T) {
	headers := Headers{}
	headers.Add("Host", "example.test")
	headers.Add("Connection", "keep-alive")
	headers.Add("Content-Length", "5")

	request := NewRequest("POST", "/items", headers, strings.NewReader("HELLO"))

	buf := bytes.NewBuffer(nil)
	require.NoError(t, NewRequestEncoder(buf, 4096).Encode(request))

	expected := "POST /items HTTP/1.1\r\n" +
		"Host: example.test\r\n" +
		"Connection: keep-alive\r\n" +
		"Content-Length: 5\r\n" +
		"\r\n" +
		"HELLO"
	assert.Equal(t, expected, buf.String())
}

func TestRequestEncodeNoBody(t *testing.T) {
	request := NewRequest("GET", "/", Headers{}, nil)

	buf := bytes.NewBuffer(nil)
	require.NoError(t, NewRequestEncoder(buf, 4096).Encode(request))

	assert.Equal(t, "GET / HTTP/1.1\r\n\r\n", buf.String())
}

func TestRequestBytes(t *testing.T) {
	headers := Headers{}
	headers.Add("Host", "example.test")

	request := NewRequest("GET", "/a", headers, nil)

	out, err := request.Bytes(16) // smaller than the head; forces flushes.
	require.NoError(t, err)

	assert.Equal(t, "GET /a HTTP/1.1\r\nHost: example.test\r\n\r\n", string(out))
}
