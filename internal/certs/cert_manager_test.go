package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSelfSigned(t *testing.T, dir, name string, notAfter time.Time) (certPath, keyPath string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "portal.local"},
		NotBefore:    notAfter.Add(-48 * time.Hour),
		NotAfter:     notAfter,
		DNSNames:     []string{"portal.local"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)

	certPath = filepath.Join(dir, name+".crt")
	keyPath = filepath.Join(dir, name+".key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestLoadCertificatesAndExpiry(t *testing.T) {
	dir := t.TempDir()
	_, key := writeSelfSigned(t, dir, "valid", time.Now().Add(90*24*time.Hour))
	writeSelfSigned(t, dir, "expired", time.Now().Add(-time.Hour))
	// Keys often share the .pem suffix with certificates.
	require.NoError(t, os.Rename(key, filepath.Join(dir, "valid-key.pem")))

	cm := NewCertManager(dir)
	certs, err := cm.LoadCertificates()
	require.NoError(t, err)
	require.Len(t, certs, 2)

	expired := 0
	for _, c := range certs {
		if cm.IsExpired(c) {
			expired++
		}
	}
	assert.Equal(t, 1, expired)
}

func TestServingConfig(t *testing.T) {
	dir := t.TempDir()
	cm := NewCertManager(dir)

	certPath, keyPath := writeSelfSigned(t, dir, "soon", time.Now().Add(10*24*time.Hour))
	cfg, leaf, err := cm.ServingConfig(certPath, keyPath)
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.True(t, cm.ExpiresWithin(leaf, 30*24*time.Hour))
	assert.False(t, cm.ExpiresWithin(leaf, 24*time.Hour))

	oldCert, oldKey := writeSelfSigned(t, dir, "old", time.Now().Add(-time.Hour))
	_, _, err = cm.ServingConfig(oldCert, oldKey)
	assert.Error(t, err)
}
