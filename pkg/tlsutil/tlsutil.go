// Package tlsutil provides TLS client configuration for connector connections.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/semconnect/errors"
)

// ClientConfig holds TLS settings of a client connection.
// The system CA bundle is always trusted, CAFiles are additional trusted CAs.
type ClientConfig struct {
	CAFiles            []string
	CertFile           string // client certificate for mutual TLS
	KeyFile            string
	InsecureSkipVerify bool
	MinVersion         string // "1.2" or "1.3"
}

// HasFiles reports whether any certificate file is configured.
func (c ClientConfig) HasFiles() bool {
	return len(c.CAFiles) > 0 || c.CertFile != ""
}

// LoadClientConfig creates a tls.Config from cfg.
func LoadClientConfig(cfg ClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: ParseVersion(cfg.MinVersion),
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	for _, caFile := range cfg.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: no PEM certificate in %s", errors.ErrInvalidConfig, caFile),
				"tlsutil", "LoadClientConfig", "parse CA certificate")
		}
	}
	tlsConfig.RootCAs = rootCAs

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	// Operators disable verification explicitly through configuration.
	tlsConfig.InsecureSkipVerify = cfg.InsecureSkipVerify //nolint:gosec

	return tlsConfig, nil
}

// ParseVersion converts a version string to its crypto/tls constant.
// Unknown and empty versions yield TLS 1.2.
func ParseVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
