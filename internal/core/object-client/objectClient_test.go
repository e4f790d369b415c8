package objectclient

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/papertrail/internal/core"
)

func TestLocalClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := NewLocalClient(t.TempDir())
	require.NoError(t, err)

	loc, err := c.UploadFile(ctx, "docs/a/paper.pdf", strings.NewReader("%PDF-1.4 body"), "application/pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(loc, "paper.pdf"))

	got, err := c.GetFile(ctx, "docs/a/paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(got))

	_, err = c.UploadFile(ctx, "docs/a/paper.pdf", strings.NewReader("v2"), "application/pdf")
	require.NoError(t, err)
	got, err = c.GetFile(ctx, "docs/a/paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	require.NoError(t, c.DeleteFile(ctx, "docs/a/paper.pdf"))
	require.NoError(t, c.DeleteFile(ctx, "docs/a/paper.pdf"))

	_, err = c.GetFile(ctx, "docs/a/paper.pdf")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestLocalClientKeepsKeysInsideRoot(t *testing.T) {
	c, err := NewLocalClient(t.TempDir())
	require.NoError(t, err)

	p, err := c.path("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, c.root))

	_, err = c.path("")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = c.path("/")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestLocalClientUploadHonoursContext(t *testing.T) {
	c, err := NewLocalClient(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.UploadFile(ctx, "x.pdf", strings.NewReader("data"), "application/pdf")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = c.GetFile(context.Background(), "x.pdf")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
