package pipeline_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite/internal/kverrors"
	"github.com/kvlite/kvlite/internal/pipeline"
)

type widget struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newPipeline(threshold int) *pipeline.Pipeline {
	return pipeline.New(pipeline.JSONSerializer{}, pipeline.FlateCompressor{}, threshold)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := newPipeline(pipeline.DefaultCompressionThreshold)

	t.Run("bytes", func(t *testing.T) {
		in := []byte{1, 2, 3, 4}
		data, compressed, err := p.Encode(in)
		require.NoError(t, err)
		assert.False(t, compressed)

		var out []byte
		require.NoError(t, p.Decode(data, compressed, &out))
		assert.Equal(t, in, out)
	})

	t.Run("string", func(t *testing.T) {
		data, compressed, err := p.Encode("hello")
		require.NoError(t, err)
		assert.False(t, compressed)

		var out string
		require.NoError(t, p.Decode(data, compressed, &out))
		assert.Equal(t, "hello", out)
	})

	t.Run("object", func(t *testing.T) {
		in := widget{Name: "a", Count: 3}
		data, compressed, err := p.Encode(in)
		require.NoError(t, err)
		assert.False(t, compressed)

		var out widget
		require.NoError(t, p.Decode(data, compressed, &out))
		assert.Equal(t, in, out)
	})
}

func TestCompressionThresholdIsTransparent(t *testing.T) {
	large := strings.Repeat("x", 8192)

	small := newPipeline(1) // compress everything
	data, compressed, err := small.Encode(large)
	require.NoError(t, err)
	assert.True(t, compressed)

	var out string
	require.NoError(t, small.Decode(data, compressed, &out))
	assert.Equal(t, large, out)

	huge := newPipeline(1 << 20) // never compress
	data2, compressed2, err := huge.Encode(large)
	require.NoError(t, err)
	assert.False(t, compressed2)

	var out2 string
	require.NoError(t, huge.Decode(data2, compressed2, &out2))
	assert.Equal(t, large, out2)
}

func TestDecodeUnknownTagIsInvalidData(t *testing.T) {
	p := newPipeline(pipeline.DefaultCompressionThreshold)

	var out string
	err := p.Decode([]byte{0xFE, 'x'}, false, &out)
	require.Error(t, err)
	assert.True(t, kverrors.Is(err, kverrors.InvalidData))
}

func TestDecodeAnyDispatchesByTag(t *testing.T) {
	p := newPipeline(pipeline.DefaultCompressionThreshold)

	data, compressed, err := p.Encode([]byte("raw"))
	require.NoError(t, err)
	v, err := p.DecodeAny(data, compressed)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), v)

	data, compressed, err = p.Encode("str")
	require.NoError(t, err)
	v, err = p.DecodeAny(data, compressed)
	require.NoError(t, err)
	assert.Equal(t, "str", v)
}
