// Package json is the JSON codec used for exported records. It wraps
// goccy/go-json with HTML escaping disabled and pools encode buffers.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// maxPooledBuffer keeps very large buffers out of the pool
const maxPooledBuffer = 1 << 20

var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer returns an empty pooled buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(buf)
}

// RawMessage is encoded JSON embedded verbatim
type RawMessage = gojson.RawMessage

// Marshal encodes v without HTML escaping
func Marshal(v any) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return append([]byte(nil), out...), nil
}

// Valid reports whether data is valid JSON
func Valid(data []byte) bool {
	return gojson.Valid(data)
}

// Unmarshal decodes data into v
func Unmarshal(data []byte, v any) error {
	return gojson.Unmarshal(data, v)
}

// MarshalString encodes v and returns it as a string
func MarshalString(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// LineEncoder writes newline-delimited JSON
type LineEncoder struct {
	enc   *gojson.Encoder
	lines int
}

// NewLineEncoder creates an encoder writing one value per line to w
func NewLineEncoder(w io.Writer) *LineEncoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &LineEncoder{enc: enc}
}

// Encode writes v followed by a newline
func (e *LineEncoder) Encode(v any) error {
	if err := e.enc.Encode(v); err != nil {
		return err
	}
	e.lines++
	return nil
}

// Lines returns how many values were written
func (e *LineEncoder) Lines() int {
	return e.lines
}
