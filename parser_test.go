package htcore

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadResponseHeadParsesStatusAndHeaders(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Type: text/plain\r\n\r\n"
	head, err := readResponseHead(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	assert.Equal(t, 200, head.Status)
	assert.Equal(t, "OK", head.ReasonPhrase)
	cl, ok := head.Headers.ContentLength()
	require.True(t, ok)
	assert.Equal(t, uint64(5), cl)
}

func TestReadResponseHeadRejectsMalformedStatusLine(t *testing.T) {
	raw := "not a status line\r\n\r\n"
	_, err := readResponseHead(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindProtocol))
}

func TestReadResponseHeadRejectsOutOfRangeStatus(t *testing.T) {
	raw := "HTTP/1.1 999 Bogus\r\n\r\n"
	_, err := readResponseHead(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindProtocol))
}

func TestWriteRequestHeadEmitsRequestLineAndHeaders(t *testing.T) {
	req := NewRequest("GET", "/foo", Origin{}, NewHeaders(Header{Name: "Host", Value: "example.com"}), nil)
	var buf bytes.Buffer
	require.NoError(t, writeRequestHead(&buf, req))
	assert.Equal(t, "GET /foo HTTP/1.1\r\nHost: example.com\r\n\r\n", buf.String())
}
