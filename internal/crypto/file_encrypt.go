package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidKeyLength is returned when the provided key length is invalid.
var ErrInvalidKeyLength = errors.New("invalid key length")

// ErrOpen is returned when a sealed blob fails authentication.
var ErrOpen = errors.New("sealed data is corrupt or was sealed with another key")

// Sealer encrypts small blobs with XChaCha20-Poly1305. The random 24-byte
// nonce is prepended to the ciphertext.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKeyLength
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerFor derives the purpose key from master and builds a Sealer.
func NewSealerFor(master []byte, purpose string) (*Sealer, error) {
	key, err := DeriveKey(master, purpose)
	if err != nil {
		return nil, err
	}
	return NewSealer(key)
}

// Seal encrypts plain, binding aad.
func (s *Sealer) Seal(plain, aad []byte) ([]byte, error) {
	nonce, err := generateRandomBytes(s.aead.NonceSize())
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plain)+s.aead.Overhead())
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plain, aad), nil
}

// Open reverses Seal.
func (s *Sealer) Open(blob, aad []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(blob) < ns+s.aead.Overhead() {
		return nil, ErrOpen
	}
	plain, err := s.aead.Open(nil, blob[:ns], blob[ns:], aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}

// SealString seals plain and encodes it as unpadded base64url, suitable for
// a cookie value.
func (s *Sealer) SealString(plain, aad []byte) (string, error) {
	blob, err := s.Seal(plain, aad)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(blob), nil
}

// OpenString reverses SealString.
func (s *Sealer) OpenString(value string, aad []byte) ([]byte, error) {
	blob, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, ErrOpen
	}
	return s.Open(blob, aad)
}

// WriteSealedFile seals plain and writes it to path with 0600 permissions,
// replacing any previous file atomically.
func WriteSealedFile(path string, s *Sealer, plain []byte) error {
	blob, err := s.Seal(plain, []byte(filepath.Base(path)))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadSealedFile reads and opens a file written by WriteSealedFile.
func ReadSealedFile(path string, s *Sealer) ([]byte, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	plain, err := s.Open(blob, []byte(filepath.Base(path)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plain, nil
}

// generateRandomBytes generates a slice of random bytes of the given length.
func generateRandomBytes(length int) ([]byte, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return nil, err
	}
	return bytes, nil
}
