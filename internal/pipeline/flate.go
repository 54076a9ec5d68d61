package pipeline

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// FlateCompressor is the default Compressor. It wraps klauspost/compress's
// flate, which is wire-compatible with compress/flate.
type FlateCompressor struct {
	// Level is the deflate compression level; flate.DefaultCompression (-1)
	// is used when Level is zero.
	Level int
}

// Compress implements Compressor.
func (c FlateCompressor) Compress(dst *bytes.Buffer, src []byte) error {
	level := c.Level
	if level == 0 {
		level = flate.DefaultCompression
	}
	w, err := flate.NewWriter(dst, level)
	if err != nil {
		return err
	}
	if _, err := w.Write(src); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Decompress implements Compressor.
func (c FlateCompressor) Decompress(src []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(src))
	defer r.Close()
	return io.ReadAll(r)
}

var _ Compressor = FlateCompressor{}
