package files

import (
	"encoding/hex"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolibri/internal/crypto"
)

func TestMasterKeyFile(t *testing.T) {
	t.Setenv("MASTER_KEY_HEX", "")
	dir := t.TempDir()

	_, err := ReadMasterKey(dir)
	assert.Error(t, err)

	key := crypto.GenerateMasterKey()
	path, err := WriteMasterKey(dir, key, false)
	require.NoError(t, err)
	assert.Equal(t, MasterKeyPath(dir), path)

	got, err := ReadMasterKey(dir)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = WriteMasterKey(dir, crypto.GenerateMasterKey(), false)
	assert.ErrorIs(t, err, ErrKeyExists)

	_, err = WriteMasterKey(dir, crypto.GenerateMasterKey(), true)
	assert.NoError(t, err)
}

func TestMasterKeyFromEnv(t *testing.T) {
	key := crypto.GenerateMasterKey()
	t.Setenv("MASTER_KEY_HEX", hex.EncodeToString(key))

	got, err := ReadMasterKey(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, key, got)

	t.Setenv("MASTER_KEY_HEX", "abcd")
	_, err = ReadMasterKey(t.TempDir())
	assert.Error(t, err)
}

func TestEnsureMasterKeyGeneratesOnce(t *testing.T) {
	t.Setenv("MASTER_KEY_HEX", "")
	dir := t.TempDir()

	first, err := EnsureMasterKey(dir)
	require.NoError(t, err)
	second, err := EnsureMasterKey(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, os.WriteFile(MasterKeyPath(dir), []byte("zz"), 0o600))
	_, err = EnsureMasterKey(dir)
	assert.Error(t, err, "a corrupt key is never silently replaced")
}

func TestSessionFile(t *testing.T) {
	home := t.TempDir()
	f, err := NewSessionFile(home, crypto.GenerateMasterKey())
	require.NoError(t, err)

	var v map[string]string
	assert.ErrorIs(t, f.Load(&v), ErrNoSession)

	require.NoError(t, f.Save(map[string]string{"access_token": "tok"}))
	require.NoError(t, f.Load(&v))
	assert.Equal(t, "tok", v["access_token"])

	require.NoError(t, f.Remove())
	require.NoError(t, f.Remove())
	assert.ErrorIs(t, f.Load(&v), ErrNoSession)
}
