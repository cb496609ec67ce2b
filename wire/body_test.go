package wire

import (
	"io"
	"strings"
	"testing"

	"httpexec/transport"
	"httpexec/transport/pipe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyReaderBufferedFirst(t *testing.T) {
	buf := []byte("xxxHELLOyyy")

	// Buffered window first, then the live connection, in order.
	br := NewBodyReader(strings.NewReader(" WORLD"), buf, 3, 8)
	assert.Equal(t, 5, br.Buffered())

	got, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, "HELLO WORLD", string(got))
	assert.Zero(t, br.Buffered())
}

func TestBodyReaderEmptyWindow(t *testing.T) {
	br := NewBodyReader(strings.NewReader("BODY"), nil, 0, 0)

	got, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, "BODY", string(got))
}

func TestBodyReaderConnClosedIsEOF(t *testing.T) {
	c1, c2 := pipe.NewPair("a", "b", 64)

	_, err := c2.Write([]byte("TAIL"))
	require.NoError(t, err)
	require.NoError(t, c2.Close())

	br := NewBodyReader(c1, []byte("HEAD"), 0, 4)

	got, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, "HEADTAIL", string(got))

	// Underneath, the transport reported closed, not EOF.
	_, err = c1.Read(make([]byte, 1))
	assert.ErrorIs(t, err, transport.ErrConnClosed)
}
