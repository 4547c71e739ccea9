package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/adsync/pkg/errors"
)

var sample = []byte(strings.Repeat(`{"campaign__id":"123","segments__date":"2024-01-19","metrics__clicks":"3"}`+"\n", 200))

func TestRoundTrip(t *testing.T) {
	for _, algo := range Algorithms {
		for _, level := range []Level{Fastest, Default, Best} {
			t.Run(string(algo), func(t *testing.T) {
				comp, err := NewCompressor(&Config{Algorithm: algo, Level: level})
				require.NoError(t, err)
				assert.Equal(t, algo, comp.Algorithm())

				compressed, err := comp.Compress(sample)
				require.NoError(t, err)
				if algo != None {
					assert.Less(t, len(compressed), len(sample))
				}

				out, err := comp.Decompress(compressed)
				require.NoError(t, err)
				assert.Equal(t, sample, out)
			})
		}
	}
}

func TestStreamingWriter(t *testing.T) {
	for _, algo := range Algorithms {
		t.Run(string(algo), func(t *testing.T) {
			comp, err := NewCompressor(&Config{Algorithm: algo})
			require.NoError(t, err)

			var buf bytes.Buffer
			w, err := comp.NewWriter(&buf)
			require.NoError(t, err)
			for _, line := range bytes.SplitAfter(sample, []byte("\n")) {
				_, err := w.Write(line)
				require.NoError(t, err)
			}
			require.NoError(t, w.Close())

			r, err := comp.NewReader(&buf)
			require.NoError(t, err)
			defer r.Close()
			out, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, sample, out)
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in   string
		want Algorithm
		ext  string
	}{
		{"", None, ""},
		{"none", None, ""},
		{"GZIP", Gzip, ".gz"},
		{" zstd ", Zstd, ".zst"},
		{"snappy", Snappy, ".sz"},
		{"lz4", LZ4, ".lz4"},
		{"s2", S2, ".s2"},
		{"deflate", Deflate, ".deflate"},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.ext, got.Extension())
	}

	_, err := ParseAlgorithm("brotli")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestNewCompressorRejectsUnknown(t *testing.T) {
	_, err := NewCompressor(&Config{Algorithm: "bzip2"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	comp, err := NewCompressor(nil)
	require.NoError(t, err)
	assert.Equal(t, None, comp.Algorithm())
}

func TestContentEncoding(t *testing.T) {
	assert.Equal(t, "gzip", Gzip.ContentEncoding())
	assert.Equal(t, "", LZ4.ContentEncoding())
}
