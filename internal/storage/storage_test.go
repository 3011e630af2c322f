package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/repair-sync/internal/model"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestCheckImage(t *testing.T) {
	ct, err := CheckImage(pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	_, err = CheckImage(nil)
	assert.ErrorIs(t, err, model.ErrSignatureMissing)

	_, err = CheckImage([]byte("<script>alert(1)</script>"))
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestDiskStoreRoundTrip(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	ctx := context.Background()

	ref, err := SaveSignature(ctx, s, "r1", SignatureCompletion, pngHeader)
	require.NoError(t, err)
	assert.Contains(t, ref, "file://signatures/r1/completion-")

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, got)

	_, err = s.Put(ctx, "../outside.png", "image/png", pngHeader)
	assert.Error(t, err)
}
