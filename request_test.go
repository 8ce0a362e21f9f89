package htcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIsHeadCaseInsensitive(t *testing.T) {
	req := NewRequest("head", "/", Origin{}, Headers{}, nil)
	assert.True(t, req.IsHead())

	req2 := NewRequest("GET", "/", Origin{}, Headers{}, nil)
	assert.False(t, req2.IsHead())
}

func TestRequestConnectionClose(t *testing.T) {
	req := NewRequest("GET", "/", Origin{}, NewHeaders(Header{Name: "Connection", Value: "close"}), nil)
	assert.True(t, req.ConnectionClose())
}
