package codec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripCompressible(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 512)
	for _, c := range []Codec{LZ4, ZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			block, err := Encode(c, data)
			require.NoError(t, err)
			assert.Less(t, len(block), len(data)/2)

			got, err := Decode(c, block)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestIncompressibleStoredRaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data := make([]byte, 256)
	rng.Read(data)
	for _, c := range []Codec{LZ4, ZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			block, err := Encode(c, data)
			require.NoError(t, err)
			assert.Equal(t, blockHeaderSize+len(data), len(block))

			got, err := Decode(c, block)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestNoneIsIdentity(t *testing.T) {
	data := []byte("plain")
	block, err := Encode(None, data)
	require.NoError(t, err)
	assert.Equal(t, data, block)

	got, err := Decode(None, block)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDecodeRejectsCorruptBlocks(t *testing.T) {
	data := bytes.Repeat([]byte("xy"), 200)
	block, err := Encode(LZ4, data)
	require.NoError(t, err)

	_, err = Decode(LZ4, block[:4])
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Decode(LZ4, block[:len(block)-1])
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Codec
		err  bool
	}{
		{"", None, false},
		{"none", None, false},
		{"LZ4", LZ4, false},
		{"zstd", ZSTD, false},
		{"snappy", None, true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
