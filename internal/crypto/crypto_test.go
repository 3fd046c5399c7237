package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeySeparatesPurposes(t *testing.T) {
	master := GenerateMasterKey()

	a, err := DeriveKey(master, PurposeSessionCookie)
	require.NoError(t, err)
	b, err := DeriveKey(master, PurposeCLISession)
	require.NoError(t, err)
	again, err := DeriveKey(master, PurposeSessionCookie)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)

	_, err = DeriveKey([]byte("short"), PurposeSessionCookie)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestSealerRejectsTampering(t *testing.T) {
	s, err := NewSealerFor(GenerateMasterKey(), PurposeSessionCookie)
	require.NoError(t, err)

	value, err := s.SealString([]byte(`{"access_token":"abc"}`), []byte("kolibri_session"))
	require.NoError(t, err)

	plain, err := s.OpenString(value, []byte("kolibri_session"))
	require.NoError(t, err)
	assert.Equal(t, `{"access_token":"abc"}`, string(plain))

	_, err = s.OpenString(value, []byte("other_cookie"))
	assert.ErrorIs(t, err, ErrOpen)

	tampered := []byte(value)
	tampered[len(tampered)-2] ^= 'A' ^ 'B'
	_, err = s.OpenString(string(tampered), []byte("kolibri_session"))
	assert.Error(t, err)

	other, err := NewSealerFor(GenerateMasterKey(), PurposeSessionCookie)
	require.NoError(t, err)
	_, err = other.OpenString(value, []byte("kolibri_session"))
	assert.ErrorIs(t, err, ErrOpen)
}

func TestSealedFile(t *testing.T) {
	s, err := NewSealerFor(GenerateMasterKey(), PurposeCLISession)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "nested", "session.json.enc")

	require.NoError(t, WriteSealedFile(path, s, []byte("secret")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	got, err := ReadSealedFile(path, s)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(got))
}
