package vaulterrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruxvault/cruxvault/vaulterrors"
)

func TestWrapNilReturnsNil(t *testing.T) {
	require.NoError(t, vaulterrors.Wrap(nil, vaulterrors.IO, "should stay nil"))
}

func TestWrapPreservesChain(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := vaulterrors.Wrap(cause, vaulterrors.IO, "failed to write audit log")

	require.Error(t, wrapped)
	assert.True(t, errors.Is(wrapped, cause))
	assert.True(t, vaulterrors.Is(wrapped, vaulterrors.IO))
	assert.False(t, vaulterrors.Is(wrapped, vaulterrors.NotFound))
}

func TestNewfFormatsMessage(t *testing.T) {
	err := vaulterrors.Newf(vaulterrors.NotFound, "Secret %s not found", "db/password")
	assert.Equal(t, "Secret db/password not found", err.Error())
	assert.True(t, vaulterrors.Is(err, vaulterrors.NotFound))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("tag mismatch")
	err := vaulterrors.Wrap(cause, vaulterrors.Cipher, "decrypt failed")

	var ve *vaulterrors.Error
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, vaulterrors.Cipher, ve.Kind)
	assert.Equal(t, cause, ve.Unwrap())
}
