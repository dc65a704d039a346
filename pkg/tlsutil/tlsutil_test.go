package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
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

	"github.com/c360/semconnect/errors"
)

// generateTestCert creates a self-signed certificate for testing
func generateTestCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

// setupTestFiles writes a certificate, its key and the certificate as CA.
func setupTestFiles(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	caFile = filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0644))
	return certFile, keyFile, caFile
}

func TestLoadClientConfig(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)

	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr bool
		check   func(t *testing.T, c *tls.Config)
	}{
		{
			name: "defaults",
			cfg:  ClientConfig{},
			check: func(t *testing.T, c *tls.Config) {
				assert.NotNil(t, c.RootCAs)
				assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
				assert.Empty(t, c.Certificates)
				assert.False(t, c.InsecureSkipVerify)
			},
		},
		{
			name: "additional CA and TLS 1.3",
			cfg:  ClientConfig{CAFiles: []string{caFile}, MinVersion: "1.3"},
			check: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
			},
		},
		{
			name: "client certificate",
			cfg:  ClientConfig{CertFile: certFile, KeyFile: keyFile},
			check: func(t *testing.T, c *tls.Config) {
				assert.Len(t, c.Certificates, 1)
			},
		},
		{
			name: "insecure",
			cfg:  ClientConfig{InsecureSkipVerify: true},
			check: func(t *testing.T, c *tls.Config) {
				assert.True(t, c.InsecureSkipVerify)
			},
		},
		{
			name:    "missing CA file",
			cfg:     ClientConfig{CAFiles: []string{filepath.Join(t.TempDir(), "none.pem")}},
			wantErr: true,
		},
		{
			name:    "key without certificate",
			cfg:     ClientConfig{KeyFile: keyFile},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := LoadClientConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestLoadClientConfig_InvalidPEM(t *testing.T) {
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(caFile, []byte("not a certificate"), 0644))

	_, err := LoadClientConfig(ClientConfig{CAFiles: []string{caFile}})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestParseVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), ParseVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), ParseVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), ParseVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), ParseVersion("1.0"))
}

func TestHasFiles(t *testing.T) {
	assert.False(t, ClientConfig{InsecureSkipVerify: true}.HasFiles())
	assert.True(t, ClientConfig{CAFiles: []string{"ca.pem"}}.HasFiles())
	assert.True(t, ClientConfig{CertFile: "c.pem"}.HasFiles())
}
