package certforge

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/tryunoo/mitmproxy/pkg/errors"
)

// leafValidity is the 365-day window spec.md §4.5 mandates for every forged
// leaf certificate.
const leafValidity = 365 * 24 * time.Hour

// Key identifies a cached forged certificate by destination. Different
// ports on the same host are different keys, so each (host, port) pair
// gets its own cache entry.
type Key struct {
	Host string
	Port int
}

// Entry is a forged leaf certificate cached for reuse against one
// (host, port) destination. LeafKeyIsCAKey is always true: every forged
// leaf reuses the CA's own keypair (spec.md §4.5 step 3's documented
// trade-off) rather than minting a fresh key per host.
type Entry struct {
	Host           string
	Port           int
	LeafCertPEM    []byte
	LeafKeyIsCAKey bool
}

// Forger mints and caches leaf certificates, keyed by (host, port). The
// cache uses a double-checked lookup/forge/insert pattern: the mutex is
// held only for map access, never across the network probe or signing
// (spec.md §5) — a race to forge the same key is possible but harmless
// since forged leaves are interchangeable (last writer wins).
type Forger struct {
	ca    *CA
	mu    sync.Mutex
	cache map[Key]*Entry
}

// NewForger returns a Forger that signs with ca's key and certificate.
func NewForger(ca *CA) *Forger {
	return &Forger{ca: ca, cache: make(map[Key]*Entry)}
}

// Forge returns the cached leaf for (host, port), forging and inserting one
// on a cache miss.
func (f *Forger) Forge(host string, port int) (*Entry, error) {
	key := Key{Host: host, Port: port}

	f.mu.Lock()
	if e, ok := f.cache[key]; ok {
		f.mu.Unlock()
		return e, nil
	}
	f.mu.Unlock()

	entry, err := f.forgeNew(host, port)
	if err != nil {
		return nil, errors.NewCertForgeError(host, port, err)
	}

	f.mu.Lock()
	f.cache[key] = entry
	f.mu.Unlock()

	return entry, nil
}

func (f *Forger) forgeNew(host string, port int) (*Entry, error) {
	peerLeaf, err := probeOriginLeaf(host, port)
	if err != nil {
		return nil, fmt.Errorf("probing origin certificate: %w", err)
	}

	subject := peerLeaf.Subject
	altNames := extractSAN(peerLeaf, host)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, fmt.Errorf("generating serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      subject,
		NotBefore:    now,
		NotAfter:     now.Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         false,
		BasicConstraintsValid: true,
	}
	for _, name := range altNames {
		if ip := net.ParseIP(name); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, name)
		}
	}

	// The forged leaf reuses the CA's own keypair as its subject key
	// (spec.md §4.5 step 3): no per-host key is generated.
	derBytes, err := x509.CreateCertificate(rand.Reader, template, f.ca.Cert, &f.ca.Key.PublicKey, f.ca.Key)
	if err != nil {
		return nil, fmt.Errorf("signing leaf certificate: %w", err)
	}

	leafPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})

	return &Entry{Host: host, Port: port, LeafCertPEM: leafPEM, LeafKeyIsCAKey: true}, nil
}

// probeOriginLeaf opens a TLS connection to host:port purely to read back
// the origin's leaf certificate's subject and SAN fields (spec.md §4.5
// step 1) — it never sends or trusts application data, so it skips chain
// verification the same way tube.Open does for the origin leg: the forged
// leaf is signed by the proxy's own CA regardless of whether the origin's
// certificate would itself verify.
func probeOriginLeaf(host string, port int) (*x509.Certificate, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host, InsecureSkipVerify: true})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("origin presented no certificate")
	}
	return state.PeerCertificates[0], nil
}

func extractSAN(leaf *x509.Certificate, fallbackHost string) []string {
	var names []string
	names = append(names, leaf.DNSNames...)
	for _, ip := range leaf.IPAddresses {
		names = append(names, ip.String())
	}
	if len(names) == 0 {
		names = append(names, fallbackHost)
	}
	return names
}
