package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectPDFs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.pdf", "nested/b.PDF", "notes.txt", "a.json"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("%PDF"), 0o644))
	}

	files, err := collectPDFs([]string{dir, filepath.Join(dir, "a.pdf")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.pdf"), filepath.Join(dir, "nested", "b.PDF")}, files)

	_, err = collectPDFs([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestReadSidecar(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "paper.pdf")

	m, err := readSidecar(pdf)
	require.NoError(t, err)
	assert.Nil(t, m)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "paper.json"),
		[]byte(`{"title":"Deep Residual Learning","authors":["Kaiming He"],"year":2016}`), 0o644))
	m, err = readSidecar(pdf)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Deep Residual Learning", m.Title)
	assert.Equal(t, []string{"Kaiming He"}, m.Authors)
	require.NotNil(t, m.Year)
	assert.Equal(t, 2016, *m.Year)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "paper.json"), []byte(`{`), 0o644))
	_, err = readSidecar(pdf)
	assert.Error(t, err)
}
