package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymKey_LatestRevisionAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	first, err := GenerateSymKey("prod", dir)
	require.NoError(t, err)

	// A newer revision written by hand must win.
	newer := *first
	newer.Revision = "29991231235959"
	b, err := os.ReadFile(filepath.Join(dir, first.NameWithRev()+symKeySuffix))
	require.NoError(t, err)
	content := []byte(symKeyVersion + "\n" + newer.NameWithRev() + "\n\n" + string(b[len(b)-44:]))
	require.NoError(t, os.WriteFile(filepath.Join(dir, newer.NameWithRev()+symKeySuffix), content, 0o600))

	got, err := GetLatestSymKey("prod", dir)
	require.NoError(t, err)
	assert.Equal(t, "29991231235959", got.Revision)
	assert.Equal(t, "prod", got.Name)

	sealed, err := got.Encrypt([]byte("rumor"))
	require.NoError(t, err)
	plain, err := first.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "rumor", string(plain))
}

func TestSymKey_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := GetLatestSymKey("nope", dir)
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	a, err := GenerateSymKey("a", dir)
	require.NoError(t, err)
	other, err := GenerateSymKey("b", dir)
	require.NoError(t, err)
	sealed, err := a.Encrypt([]byte("x"))
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	assert.True(t, errors.Is(err, ErrDecrypt))
	_, err = a.Decrypt([]byte("short"))
	assert.True(t, errors.Is(err, ErrDecrypt))
}

func TestSymKey_RingPrefixIsolation(t *testing.T) {
	dir := t.TempDir()
	_, err := GenerateSymKey("foo-bar", dir)
	require.NoError(t, err)
	_, err = GetLatestSymKey("foo", dir)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestSigPair_SignVerify(t *testing.T) {
	dir := t.TempDir()
	pair, err := GenerateSigPair("core", dir)
	require.NoError(t, err)

	pub, err := LoadSigPublic(pair.NameWithRev(), dir)
	require.NoError(t, err)
	assert.Nil(t, pub.Secret)

	sig, err := pair.Sign([]byte("digest"))
	require.NoError(t, err)
	assert.True(t, pub.Verify([]byte("digest"), sig))
	assert.False(t, pub.Verify([]byte("tampered"), sig))

	_, err = pub.Sign([]byte("digest"))
	assert.Error(t, err)

	_, err = LoadSigPublic("core-00000000000000", dir)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}
