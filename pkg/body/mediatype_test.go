package body

import (
	"mime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/tokmz/courier/pkg/errors"
)

func TestIsMultipart(t *testing.T) {
	assert.True(t, IsMultipart("multipart/form-data"))
	assert.True(t, IsMultipart("Multipart/Mixed; boundary=abc"))
	assert.False(t, IsMultipart("application/json"))
	assert.False(t, IsMultipart(""))
}

func TestEnsureBoundary(t *testing.T) {
	t.Run("keeps existing boundary", func(t *testing.T) {
		b, ct, err := EnsureBoundary("multipart/form-data; boundary=xyz")
		require.NoError(t, err)
		assert.Equal(t, "xyz", b)
		assert.Equal(t, "multipart/form-data; boundary=xyz", ct)
	})

	t.Run("generates boundary", func(t *testing.T) {
		b, ct, err := EnsureBoundary("multipart/mixed")
		require.NoError(t, err)
		require.NotEmpty(t, b)

		mt, params, err := mime.ParseMediaType(ct)
		require.NoError(t, err)
		assert.Equal(t, "multipart/mixed", mt)
		assert.Equal(t, b, params["boundary"])
		assert.Equal(t, b, Boundary(ct))
	})

	t.Run("rejects non multipart", func(t *testing.T) {
		_, ct, err := EnsureBoundary("text/plain")
		require.Error(t, err)
		assert.Equal(t, "text/plain", ct)
		assert.Equal(t, cerrors.KindValidation, cerrors.KindOf(err))
	})
}

func TestNewBoundaryUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		b := NewBoundary()
		assert.Len(t, b, 32)
		seen[b] = struct{}{}
	}
	assert.Len(t, seen, 100)
}
