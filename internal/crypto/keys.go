package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the length of the portal master key in bytes.
const MasterKeySize = 32

// Key purposes. Each derived key is only ever used for one of these.
const (
	PurposeSessionCookie = "kolibri/session-cookie/v1"
	PurposeCLISession    = "kolibri/cli-session/v1"
)

// DeriveKey derives a 32-byte subkey for purpose from the master key using
// HKDF-SHA256.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) != MasterKeySize {
		return nil, ErrInvalidKeyLength
	}
	h := hkdf.New(sha256.New, master, nil, []byte(purpose))
	out := make([]byte, 32)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateMasterKey returns a fresh random master key.
func GenerateMasterKey() []byte {
	return MustRandom(MasterKeySize)
}

// MustRandom returns n random bytes or panics.
func MustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return b
}
