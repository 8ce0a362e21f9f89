package htcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersGetCaseInsensitive(t *testing.T) {
	h := NewHeaders(Header{Name: "Content-Type", Value: "text/plain"})
	v, ok := h.Get("content-type")
	require.True(t, ok)
	assert.Equal(t, "text/plain", v)

	_, ok = h.Get("X-Missing")
	assert.False(t, ok)
}

func TestHeadersSetReplacesAllMatches(t *testing.T) {
	h := NewHeaders(
		Header{Name: "X-Foo", Value: "1"},
		Header{Name: "X-Bar", Value: "keep"},
		Header{Name: "x-foo", Value: "2"},
	)
	h.Set("X-Foo", "3")

	assert.Equal(t, 2, h.Len())
	v, ok := h.Get("X-Foo")
	require.True(t, ok)
	assert.Equal(t, "3", v)
	v, ok = h.Get("X-Bar")
	require.True(t, ok)
	assert.Equal(t, "keep", v)
}

func TestHeadersHasConnectionClose(t *testing.T) {
	h := NewHeaders(Header{Name: "Connection", Value: " Close "})
	assert.True(t, h.HasConnectionClose())

	h2 := NewHeaders(Header{Name: "Connection", Value: "keep-alive"})
	assert.False(t, h2.HasConnectionClose())
}

func TestHeadersIsChunked(t *testing.T) {
	h := NewHeaders(Header{Name: "Transfer-Encoding", Value: "gzip, chunked"})
	assert.True(t, h.IsChunked())

	h2 := NewHeaders(Header{Name: "Transfer-Encoding", Value: "gzip"})
	assert.False(t, h2.IsChunked())
}

func TestHeadersContentLength(t *testing.T) {
	cases := []struct {
		name  string
		value string
		n     uint64
		ok    bool
	}{
		{"valid", "42", 42, true},
		{"empty", "", 0, false},
		{"nonNumeric", "abc", 0, false},
		{"negative", "-1", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHeaders(Header{Name: "Content-Length", Value: tc.value})
			n, ok := h.ContentLength()
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.n, n)
			}
		})
	}

	var missing Headers
	_, ok := missing.ContentLength()
	assert.False(t, ok)
}
