package files

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kolibri/internal/crypto"
)

// ErrNoSession is returned when no CLI session has been saved.
var ErrNoSession = errors.New("not signed in")

const sessionFileName = "session.json.enc"

// ReadMasterKey reads MASTER_KEY_HEX, falling back to master.key in dir.
// The key is 32 bytes, hex encoded.
func ReadMasterKey(dir string) ([]byte, error) {
	h := os.Getenv("MASTER_KEY_HEX")
	if h == "" {
		data, err := os.ReadFile(MasterKeyPath(dir))
		if err != nil {
			return nil, fmt.Errorf("MASTER_KEY_HEX not set and %s not readable: %w", MasterKeyPath(dir), err)
		}
		h = string(data)
	}
	b, err := hex.DecodeString(strings.TrimSpace(h))
	if err != nil {
		return nil, fmt.Errorf("master key hex decode error: %w", err)
	}
	if len(b) != crypto.MasterKeySize {
		return nil, fmt.Errorf("master key length must be %d bytes (hex %d chars)", crypto.MasterKeySize, crypto.MasterKeySize*2)
	}
	return b, nil
}

// SessionFile persists the CLI's auth session, sealed with a key derived
// from the master key.
type SessionFile struct {
	path   string
	sealer *crypto.Sealer
}

// NewSessionFile returns the session file under home.
func NewSessionFile(home string, masterKey []byte) (*SessionFile, error) {
	sealer, err := crypto.NewSealerFor(masterKey, crypto.PurposeCLISession)
	if err != nil {
		return nil, err
	}
	return &SessionFile{path: filepath.Join(home, sessionFileName), sealer: sealer}, nil
}

// Path returns the file location.
func (f *SessionFile) Path() string { return f.path }

// Save writes v as sealed JSON.
func (f *SessionFile) Save(v any) error {
	plain, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return crypto.WriteSealedFile(f.path, f.sealer, plain)
}

// Load decodes the saved session into v. It returns ErrNoSession if nothing
// has been saved.
func (f *SessionFile) Load(v any) error {
	plain, err := crypto.ReadSealedFile(f.path, f.sealer)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoSession
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, v)
}

// Remove deletes the saved session. Removing a missing file is not an error.
func (f *SessionFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
