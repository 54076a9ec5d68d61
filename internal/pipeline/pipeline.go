// Package pipeline implements the value pipeline: tag-prefixed
// serialize-then-compress on write, and the reverse on read.
package pipeline

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/kvlite/kvlite/internal/kverrors"
)

// Tag identifies how the payload following it was produced.
type Tag byte

const (
	// TagObject marks a serializer-produced payload (the default path for
	// arbitrary Go values).
	TagObject Tag = 0x00
	// TagBytes marks a verbatim []byte payload.
	TagBytes Tag = 0x01
	// TagString marks a UTF-8 string payload.
	TagString Tag = 0x02
)

// DefaultCompressionThreshold is the payload size, in bytes, at or above
// which Encode compresses the tag+payload stream.
const DefaultCompressionThreshold = 4096

// Serializer is the pluggable strategy for TagObject payloads.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Compressor is the pluggable strategy for the post-tag compression step.
type Compressor interface {
	Compress(dst *bytes.Buffer, src []byte) error
	Decompress(src []byte) ([]byte, error)
}

// Pipeline binds a Serializer and Compressor and exposes Encode/Decode.
type Pipeline struct {
	Serializer           Serializer
	Compressor           Compressor
	CompressionThreshold int

	bufPool sync.Pool
}

// New returns a Pipeline with the given strategies and threshold. A
// threshold <= 0 falls back to DefaultCompressionThreshold.
func New(s Serializer, c Compressor, threshold int) *Pipeline {
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	p := &Pipeline{Serializer: s, Compressor: c, CompressionThreshold: threshold}
	p.bufPool.New = func() any { return new(bytes.Buffer) }
	return p
}

// NewFromName builds a Pipeline from a serializer name as it appears in
// configuration: "fastjson" selects the goccy-backed serializer, anything
// else the encoding/json default. The compressor is always flate.
func NewFromName(serializer string, threshold int) *Pipeline {
	if serializer == "fastjson" {
		return New(FastJSONSerializer{}, FlateCompressor{}, threshold)
	}
	return New(JSONSerializer{}, FlateCompressor{}, threshold)
}

func (p *Pipeline) getBuf() *bytes.Buffer {
	buf := p.bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (p *Pipeline) putBuf(buf *bytes.Buffer) {
	p.bufPool.Put(buf)
}

// Encode produces the on-disk byte stream and compressed flag for v.
//
// v is dispatched by concrete type: []byte and string take the raw/verbatim
// tags; everything else goes through the Serializer under TagObject.
func (p *Pipeline) Encode(v any) (data []byte, compressed bool, err error) {
	raw := p.getBuf()
	defer p.putBuf(raw)

	switch val := v.(type) {
	case []byte:
		raw.WriteByte(byte(TagBytes))
		raw.Write(val)
	case string:
		raw.WriteByte(byte(TagString))
		raw.WriteString(val)
	default:
		payload, merr := p.Serializer.Marshal(v)
		if merr != nil {
			return nil, false, kverrors.New(kverrors.SerializationFailed, "pipeline.Encode", merr)
		}
		raw.WriteByte(byte(TagObject))
		raw.Write(payload)
	}

	if raw.Len() < p.CompressionThreshold {
		out := make([]byte, raw.Len())
		copy(out, raw.Bytes())
		return out, false, nil
	}

	compBuf := p.getBuf()
	defer p.putBuf(compBuf)
	if err := p.Compressor.Compress(compBuf, raw.Bytes()); err != nil {
		return nil, false, kverrors.New(kverrors.SerializationFailed, "pipeline.Encode", err)
	}
	out := make([]byte, compBuf.Len())
	copy(out, compBuf.Bytes())
	return out, true, nil
}

// Decode reverses Encode into dst, which must be a pointer for the
// TagObject case (it is passed straight to Serializer.Unmarshal).
//
// A malformed stream (bad tag, corrupt compressed data, or a serializer
// error) is reported as kverrors.InvalidData; the engine reacts by
// deleting the offending row and returning absence rather than
// propagating the error to the caller.
func (p *Pipeline) Decode(data []byte, compressed bool, dst any) error {
	raw := data
	if compressed {
		decompressed, err := p.Compressor.Decompress(data)
		if err != nil {
			return kverrors.New(kverrors.InvalidData, "pipeline.Decode", err)
		}
		raw = decompressed
	}
	if len(raw) == 0 {
		return kverrors.New(kverrors.InvalidData, "pipeline.Decode", fmt.Errorf("empty payload"))
	}

	tag := Tag(raw[0])
	payload := raw[1:]

	switch tag {
	case TagBytes:
		if ptr, ok := dst.(*[]byte); ok {
			*ptr = append([]byte(nil), payload...)
			return nil
		}
		return kverrors.New(kverrors.InvalidData, "pipeline.Decode", fmt.Errorf("tag is raw bytes but destination is %T", dst))
	case TagString:
		if ptr, ok := dst.(*string); ok {
			*ptr = string(payload)
			return nil
		}
		return kverrors.New(kverrors.InvalidData, "pipeline.Decode", fmt.Errorf("tag is string but destination is %T", dst))
	case TagObject:
		if err := p.Serializer.Unmarshal(payload, dst); err != nil {
			return kverrors.New(kverrors.InvalidData, "pipeline.Decode", err)
		}
		return nil
	default:
		return kverrors.New(kverrors.InvalidData, "pipeline.Decode", fmt.Errorf("unknown tag byte 0x%02x", byte(tag)))
	}
}

// DecodeAny is a convenience for callers that don't know the stored shape
// ahead of time: it returns a []byte for TagBytes, a string for TagString,
// and an Unmarshal into a generic map/slice for TagObject.
func (p *Pipeline) DecodeAny(data []byte, compressed bool) (any, error) {
	raw := data
	if compressed {
		decompressed, err := p.Compressor.Decompress(data)
		if err != nil {
			return nil, kverrors.New(kverrors.InvalidData, "pipeline.DecodeAny", err)
		}
		raw = decompressed
	}
	if len(raw) == 0 {
		return nil, kverrors.New(kverrors.InvalidData, "pipeline.DecodeAny", fmt.Errorf("empty payload"))
	}

	tag := Tag(raw[0])
	payload := raw[1:]

	switch tag {
	case TagBytes:
		return append([]byte(nil), payload...), nil
	case TagString:
		return string(payload), nil
	case TagObject:
		var v any
		if err := p.Serializer.Unmarshal(payload, &v); err != nil {
			return nil, kverrors.New(kverrors.InvalidData, "pipeline.DecodeAny", err)
		}
		return v, nil
	default:
		return nil, kverrors.New(kverrors.InvalidData, "pipeline.DecodeAny", fmt.Errorf("unknown tag byte 0x%02x", byte(tag)))
	}
}
