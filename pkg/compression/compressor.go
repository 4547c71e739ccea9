// Package compression wraps the compression codecs used for exported files.
//
// Each Algorithm provides a streaming writer, so a sink can compress a
// file while it is being encoded, and a matching reader used by tests and
// by tools that read the exports back.
//
//	comp, err := compression.NewCompressor(&compression.Config{Algorithm: compression.Zstd})
//	w, err := comp.NewWriter(file)
//	// encode records into w
//	err = w.Close()
package compression

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/adsync/pkg/errors"
)

// Algorithm names a codec
type Algorithm string

const (
	None    Algorithm = "none"
	Gzip    Algorithm = "gzip"
	Snappy  Algorithm = "snappy"
	LZ4     Algorithm = "lz4"
	Zstd    Algorithm = "zstd"
	S2      Algorithm = "s2"
	Deflate Algorithm = "deflate"
)

// Algorithms lists every supported codec
var Algorithms = []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2, Deflate}

// ParseAlgorithm accepts an algorithm name; "" means None
func ParseAlgorithm(s string) (Algorithm, error) {
	name := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if name == "" {
		return None, nil
	}
	for _, a := range Algorithms {
		if a == name {
			return a, nil
		}
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", s)
}

// Extension is the file suffix of the codec, empty for None
func (a Algorithm) Extension() string {
	switch a {
	case Gzip:
		return ".gz"
	case Snappy:
		return ".sz"
	case LZ4:
		return ".lz4"
	case Zstd:
		return ".zst"
	case S2:
		return ".s2"
	case Deflate:
		return ".deflate"
	default:
		return ""
	}
}

// ContentEncoding is the HTTP Content-Encoding for object stores, when one
// exists
func (a Algorithm) ContentEncoding() string {
	switch a {
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case Deflate:
		return "deflate"
	default:
		return ""
	}
}

// Level trades speed for ratio
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

// Config selects the codec and level
type Config struct {
	Algorithm Algorithm
	Level     Level
}

// Compressor encodes and decodes one algorithm
type Compressor interface {
	// NewWriter compresses everything written until Close. Close does not
	// close dst.
	NewWriter(dst io.Writer) (io.WriteCloser, error)
	// NewReader decompresses src
	NewReader(src io.Reader) (io.ReadCloser, error)
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() Algorithm
}

// NewCompressor creates a compressor; a nil config means no compression
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = &Config{Algorithm: None}
	}
	level := config.Level
	if level == 0 {
		level = Default
	}
	switch config.Algorithm {
	case None, "", Gzip, Snappy, LZ4, Zstd, S2, Deflate:
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", config.Algorithm)
	}
	algo := config.Algorithm
	if algo == "" {
		algo = None
	}
	return &codec{algorithm: algo, level: level}, nil
}

type codec struct {
	algorithm Algorithm
	level     Level
}

func (c *codec) Algorithm() Algorithm { return c.algorithm }

func (c *codec) NewWriter(dst io.Writer) (io.WriteCloser, error) {
	switch c.algorithm {
	case Gzip:
		return gzip.NewWriterLevel(dst, mapGzipLevel(c.level))
	case Snappy:
		return snappy.NewBufferedWriter(dst), nil
	case LZ4:
		w := lz4.NewWriter(dst)
		if err := w.Apply(lz4.CompressionLevelOption(mapLZ4Level(c.level))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to configure lz4 writer")
		}
		return w, nil
	case Zstd:
		return zstd.NewWriter(dst, zstd.WithEncoderLevel(mapZstdLevel(c.level)))
	case S2:
		return s2.NewWriter(dst), nil
	case Deflate:
		return flate.NewWriter(dst, mapDeflateLevel(c.level))
	default:
		return nopWriteCloser{dst}, nil
	}
}

func (c *codec) NewReader(src io.Reader) (io.ReadCloser, error) {
	switch c.algorithm {
	case Gzip:
		return gzip.NewReader(src)
	case Snappy:
		return io.NopCloser(snappy.NewReader(src)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(src)), nil
	case Zstd:
		dec, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case S2:
		return io.NopCloser(s2.NewReader(src)), nil
	case Deflate:
		return flate.NewReader(src), nil
	default:
		return io.NopCloser(src), nil
	}
}

func (c *codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *codec) Decompress(data []byte) ([]byte, error) {
	r, err := c.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}
