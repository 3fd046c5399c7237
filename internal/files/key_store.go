package files

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"kolibri/internal/crypto"
)

const masterKeyFile = "master.key"

// ErrKeyExists is returned when WriteMasterKey would overwrite a key.
var ErrKeyExists = errors.New("master key already exists")

// MasterKeyPath returns where the master key lives in dir.
func MasterKeyPath(dir string) string {
	return filepath.Join(dir, masterKeyFile)
}

// WriteMasterKey stores key hex encoded in dir with 0600 permissions. It
// refuses to replace an existing key unless force is set.
func WriteMasterKey(dir string, key []byte, force bool) (string, error) {
	if len(key) != crypto.MasterKeySize {
		return "", crypto.ErrInvalidKeyLength
	}
	path := MasterKeyPath(dir)
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s: %w", path, ErrKeyExists)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// EnsureMasterKey loads the key from dir, generating one on first use.
func EnsureMasterKey(dir string) ([]byte, error) {
	key, err := ReadMasterKey(dir)
	if err == nil {
		return key, nil
	}
	if _, statErr := os.Stat(MasterKeyPath(dir)); statErr == nil || os.Getenv("MASTER_KEY_HEX") != "" {
		return nil, err
	}
	key = crypto.GenerateMasterKey()
	if _, err := WriteMasterKey(dir, key, false); err != nil {
		return nil, err
	}
	return key, nil
}
