package certforge

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

func testCA(t *testing.T) *CA {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating test CA key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("self-signing test CA: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing test CA: %v", err)
	}
	return &CA{Cert: cert, Key: key}
}

func TestExtractSANFallsBackToHost(t *testing.T) {
	leaf := &x509.Certificate{}
	got := extractSAN(leaf, "example.com")
	if len(got) != 1 || got[0] != "example.com" {
		t.Errorf("extractSAN with no SAN = %v, want [example.com]", got)
	}
}

func TestExtractSANPrefersCertSAN(t *testing.T) {
	leaf := &x509.Certificate{DNSNames: []string{"a.example.com", "b.example.com"}}
	got := extractSAN(leaf, "fallback.example.com")
	if len(got) != 2 || got[0] != "a.example.com" {
		t.Errorf("extractSAN = %v, want cert's own DNS names", got)
	}
}

func TestForgerCachesByHostPort(t *testing.T) {
	ca := testCA(t)
	f := NewForger(ca)

	// Pre-seed the cache directly to avoid a real network probe in a unit test.
	f.cache[Key{Host: "example.com", Port: 443}] = &Entry{Host: "example.com", Port: 443, LeafKeyIsCAKey: true}

	entry, err := f.Forge("example.com", 443)
	if err != nil {
		t.Fatalf("Forge on cache hit returned error: %v", err)
	}
	if !entry.LeafKeyIsCAKey {
		t.Error("forged leaf should reuse the CA's own keypair")
	}
}

func TestForgerDistinctKeysForDistinctPorts(t *testing.T) {
	ca := testCA(t)
	f := NewForger(ca)
	f.cache[Key{Host: "example.com", Port: 443}] = &Entry{Host: "example.com", Port: 443}
	f.cache[Key{Host: "example.com", Port: 8443}] = &Entry{Host: "example.com", Port: 8443}

	if len(f.cache) != 2 {
		t.Errorf("expected distinct cache entries per port, got %d entries", len(f.cache))
	}
}
