package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/fleetsup/internal/crypto"
)

func signedArchive(t *testing.T, files map[string]File) (*Archive, string) {
	t.Helper()
	keys := t.TempDir()
	pair, err := crypto.GenerateSigPair("core", keys)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "core-web-1.0.0-1.fsa")
	require.NoError(t, Create(path, pair, files))
	return &Archive{Path: path}, keys
}

func TestVerifyAndUnpack(t *testing.T) {
	a, keys := signedArchive(t, map[string]File{
		"pkgs/core/web/1.0.0/1/PACKAGE.yaml": {Body: []byte("run: bin/web\n")},
		"pkgs/core/web/1.0.0/1/bin/web":      {Body: []byte("#!/bin/sh\n"), Mode: 0o755},
	})
	require.NoError(t, a.Verify(keys))

	name, err := a.SigningKey()
	require.NoError(t, err)
	assert.Contains(t, name, "core-")

	root := t.TempDir()
	require.NoError(t, a.Unpack(root))
	b, err := os.ReadFile(filepath.Join(root, "pkgs/core/web/1.0.0/1/PACKAGE.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "run: bin/web\n", string(b))
	st, err := os.Stat(filepath.Join(root, "pkgs/core/web/1.0.0/1/bin/web"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), st.Mode().Perm())
}

func TestVerify_UnknownKey(t *testing.T) {
	a, _ := signedArchive(t, map[string]File{"x": {Body: []byte("x")}})
	err := a.Verify(t.TempDir())
	assert.True(t, errors.Is(err, ErrVerify))
	assert.True(t, errors.Is(err, crypto.ErrKeyNotFound))
}

func TestVerify_TamperedPayload(t *testing.T) {
	a, keys := signedArchive(t, map[string]File{"x": {Body: []byte("original")}})
	b, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	b[len(b)-1] ^= 0xff
	require.NoError(t, os.WriteFile(a.Path, b, 0o644))
	assert.True(t, errors.Is(a.Verify(keys), ErrVerify))
}

func TestUnpack_RejectsTraversal(t *testing.T) {
	a, _ := signedArchive(t, map[string]File{"../escape": {Body: []byte("x")}})
	root := t.TempDir()
	err := a.Unpack(root)
	assert.True(t, errors.Is(err, ErrFormat))
	_, statErr := os.Stat(filepath.Join(filepath.Dir(root), "escape"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestOpen_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.fsa")
	require.NoError(t, os.WriteFile(path, []byte("NOT-AN-ARCHIVE\n"), 0o644))
	a := &Archive{Path: path}
	assert.True(t, errors.Is(a.Verify(t.TempDir()), ErrFormat))
	assert.True(t, errors.Is(a.Unpack(t.TempDir()), ErrFormat))
}
