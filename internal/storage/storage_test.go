package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/surge/internal/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorage_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewFromFs(afero.NewMemMapFs())

	require.NoError(t, store.Put(ctx, "surges/1/packets/2.pdf", []byte("%PDF-1")))

	data, err := store.Get(ctx, "surges/1/packets/2.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1"), data)

	size, err := store.Stat(ctx, "surges/1/packets/2.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)

	require.NoError(t, store.Put(ctx, "surges/1/packets/2.pdf", []byte("%PDF-22")))
	data, err = store.Get(ctx, "surges/1/packets/2.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-22"), data)

	require.NoError(t, store.Delete(ctx, "surges/1/packets/2.pdf"))
	_, err = store.Get(ctx, "surges/1/packets/2.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "surges/1/packets/2.pdf"), ErrObjectNotFound)
}

func TestFileStorage_CreateIsInvisibleUntilClosed(t *testing.T) {
	ctx := context.Background()
	store := NewFromFs(afero.NewMemMapFs())

	w, err := store.Create(ctx, "archives/a.zip")
	require.NoError(t, err)
	_, err = io.Copy(w, strings.NewReader("zip-bytes"))
	require.NoError(t, err)

	_, err = store.Open(ctx, "archives/a.zip")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, w.Close())
	data, err := store.Get(ctx, "archives/a.zip")
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(data))
}

func TestFileStorage_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store := NewFromFs(afero.NewMemMapFs())

	for _, key := range []string{"", "  ", "../etc/passwd", "surges/../../x"} {
		assert.ErrorIs(t, store.Put(ctx, key, []byte("x")), ErrInvalidKey, key)
	}
}

func TestSigner_SignAndVerify(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	signer, err := NewSigner("secret", "https://surge.example.com/", clk)
	require.NoError(t, err)

	url, expiresAt, err := signer.Sign("surges/1/archives/x.zip", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Hour), expiresAt)
	require.True(t, strings.HasPrefix(url, "https://surge.example.com/downloads/"))

	token := strings.TrimPrefix(url, "https://surge.example.com/downloads/")
	key, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "surges/1/archives/x.zip", key)

	clk.Advance(2 * time.Hour)
	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidDownloadToken)
}

func TestSigner_RejectsForeignToken(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	issuer, err := NewSigner("one", "http://a", clk)
	require.NoError(t, err)
	verifier, err := NewSigner("two", "http://a", clk)
	require.NoError(t, err)

	url, _, err := issuer.Sign("k", time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(strings.TrimPrefix(url, "http://a/downloads/"))
	assert.ErrorIs(t, err, ErrInvalidDownloadToken)
}

func TestFileStorage_List(t *testing.T) {
	ctx := context.Background()
	store := NewFromFs(afero.NewMemMapFs())

	require.NoError(t, store.Put(ctx, "surges/1/archives/a.zip", []byte("zip")))
	require.NoError(t, store.Put(ctx, "surges/1/packets/2.pdf", []byte("%PDF")))
	require.NoError(t, store.Put(ctx, "surges/2/archives/b.zip", []byte("zip")))

	all, err := store.List(ctx, "surges/")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	archives, err := store.List(ctx, "surges/1/archives/")
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, "surges/1/archives/a.zip", archives[0].Key)
	assert.Equal(t, int64(3), archives[0].Size)

	none, err := store.List(ctx, "surges/9/")
	require.NoError(t, err)
	assert.Empty(t, none)
}
