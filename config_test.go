package htcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSizeAcceptsHumanReadableSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"65536", 65536},
		{"64KiB", 64 * 1024},
		{"1MB", 1024 * 1024},
		{"1MiB", 1024 * 1024},
	}
	for _, tc := range cases {
		got, err := ParseSize(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	_, err := ParseSize("not-a-size")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindProtocol))
}

func TestEngineConfigWithReadBufferSizeOverridesDefault(t *testing.T) {
	cfg, err := DefaultEngineConfig().WithReadBufferSize("128KiB")
	require.NoError(t, err)
	assert.Equal(t, 128*1024, cfg.ReadBufferSize)
}

func TestEngineConfigWithReadBufferSizePropagatesParseError(t *testing.T) {
	_, err := DefaultEngineConfig().WithReadBufferSize("garbage")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindProtocol))
}
