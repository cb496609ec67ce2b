package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected Version
		wantErr  bool
	}{
		{input: "HTTP/1.1", expected: Version{1, 1}},
		{input: "HTTP/1.0", expected: Version{1, 0}},
		{input: "HTTP/11", wantErr: true},
		{input: "HTP/1.1", wantErr: true},
		{input: "HTTP/a.b", wantErr: true},
	}

	for _, tt := range tests {
		ver, err := ParseVersion([]byte(tt.input))
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.expected, ver)
	}
}

func TestVersionText(t *testing.T) {
	assert.Equal(t, "HTTP/1.1", Version{1, 1}.String())
}

func TestParseField(t *testing.T) {
	field, err := ParseField([]byte("Content-Type:  text/plain\t"))
	require.NoError(t, err)
	assert.Equal(t, Field{Name: "Content-Type", Value: "text/plain"}, field)

	_, err = ParseField([]byte("no colon here"))
	assert.Error(t, err)

	// No whitespace is allowed between field name and colon.
	_, err = ParseField([]byte("Content-Type : text/plain"))
	assert.Error(t, err)
}

func TestParseStatusLine(t *testing.T) {
	line, err := parseStatusLine([]byte("HTTP/1.1 200 OK"))
	require.NoError(t, err)
	assert.Equal(t, StatusLine{Version: Version{1, 1}, StatusCode: 200, Reason: "OK"}, line)

	// reason-phrase is optional.
	line, err = parseStatusLine([]byte("HTTP/1.1 204"))
	require.NoError(t, err)
	assert.Equal(t, StatusLine{Version: Version{1, 1}, StatusCode: 204}, line)

	// reason-phrase may contain spaces.
	line, err = parseStatusLine([]byte("HTTP/1.1 404 Not Found"))
	require.NoError(t, err)
	assert.Equal(t, "Not Found", line.Reason)

	for _, input := range []string{"", "HTTP/1.1", "HTTP/1.1 2000 OK", "HTTP/1.1 2x0 OK", "FTP/1.1 200 OK"} {
		_, err := parseStatusLine([]byte(input))
		assert.Error(t, err, input)
	}
}

func TestEqualValueFold(t *testing.T) {
	assert.True(t, EqualValueFold("close", "close"))
	assert.True(t, EqualValueFold("Close", "close"))
	assert.True(t, EqualValueFold(" CLOSE\t", "close"))
	assert.False(t, EqualValueFold("keep-alive", "close"))
}
