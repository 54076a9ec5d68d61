package kverrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kvlite/kvlite/internal/kverrors"
)

func TestIsMatchesKind(t *testing.T) {
	err := kverrors.New(kverrors.InvalidArgument, "engine.Get", nil)
	assert.True(t, kverrors.Is(err, kverrors.InvalidArgument))
	assert.False(t, kverrors.Is(err, kverrors.Disposed))
}

func TestOfReturnsKind(t *testing.T) {
	err := kverrors.New(kverrors.BackendUnavailable, "storage.Open", errors.New("dial tcp: timeout"))
	assert.Equal(t, kverrors.BackendUnavailable, kverrors.Of(err))
	assert.Equal(t, kverrors.Kind(""), kverrors.Of(errors.New("plain")))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := kverrors.New(kverrors.BackendUnavailable, "storage.Open", cause)
	assert.ErrorIs(t, err, cause)
}

func TestErrorStringIncludesOpAndKind(t *testing.T) {
	err := kverrors.New(kverrors.SchemaIncompatible, "storage.EnsureSchema", nil)
	assert.Contains(t, err.Error(), "storage.EnsureSchema")
	assert.Contains(t, err.Error(), string(kverrors.SchemaIncompatible))
}

func TestWrappedErrorStillMatchesIs(t *testing.T) {
	inner := kverrors.New(kverrors.InvalidData, "pipeline.Decode", nil)
	outer := fmt.Errorf("engine.decodeOrHeal: %w", inner)
	assert.True(t, kverrors.Is(outer, kverrors.InvalidData))
}
