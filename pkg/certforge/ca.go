// Package certforge mints per-host TLS leaf certificates on demand, signed
// by a locally trusted CA, so the proxy can terminate TLS on the
// client-facing leg of a CONNECT tunnel. Grounded on
// original_source/proxy/cert.py.
package certforge

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/tryunoo/mitmproxy/pkg/errors"
)

// CA holds the locally trusted certificate authority material used to sign
// forged leaves: a single RSA keypair and a self-signed CA certificate.
type CA struct {
	Cert    *x509.Certificate
	CertPEM []byte
	Key     *rsa.PrivateKey
	KeyPEM  []byte
}

// LoadPrivateKey reads a PEM-encoded RSA private key from path.
func LoadPrivateKey(path string) (*rsa.PrivateKey, []byte, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.NewConfigError("reading private key file", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, nil, errors.NewConfigError("private key file is not valid PEM", nil)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, pemBytes, nil
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, errors.NewConfigError("unparseable private key", err)
	}
	key, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, errors.NewConfigError("private key is not RSA", nil)
	}
	return key, pemBytes, nil
}

// LoadCACert reads a PEM-encoded CA certificate from path.
func LoadCACert(path string) (*x509.Certificate, []byte, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.NewConfigError("reading CA certificate file", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, nil, errors.NewConfigError("CA certificate file is not valid PEM", nil)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, errors.NewConfigError("unparseable CA certificate", err)
	}
	return cert, pemBytes, nil
}

// LoadCA loads both the CA private key and certificate, as spec.md §6's
// config requires (private_key_path, cacert_path), matching
// original_source/proxy/cert.py's get_private_key/get_cacert.
func LoadCA(privateKeyPath, cacertPath string) (*CA, error) {
	key, keyPEM, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, err
	}
	cert, certPEM, err := LoadCACert(cacertPath)
	if err != nil {
		return nil, err
	}
	return &CA{Cert: cert, CertPEM: certPEM, Key: key, KeyPEM: keyPEM}, nil
}
