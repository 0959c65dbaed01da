package inspect

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/khanhnv2901/httpswatch/internal/truststore"
)

// testCert pairs a certificate with its signing key.
type testCert struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func mintCert(t *testing.T, cn string, parent *testCert, isCA bool, mutate func(*x509.Certificate)) *testCert {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("generating serial: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		BasicConstraintsValid: true,
		IsCA:                  isCA,
	}
	if isCA {
		template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	} else {
		template.KeyUsage = x509.KeyUsageDigitalSignature
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	}
	if mutate != nil {
		mutate(template)
	}

	signerCert := template
	signerKey := key
	if parent != nil {
		signerCert = parent.cert
		signerKey = parent.key
	}

	der, err := x509.CreateCertificate(rand.Reader, template, signerCert, &key.PublicKey, signerKey)
	if err != nil {
		t.Fatalf("creating certificate %s: %v", cn, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate %s: %v", cn, err)
	}
	return &testCert{cert: cert, key: key}
}

// loopbackLeaf mints a leaf valid for 127.0.0.1 and localhost.
func loopbackLeaf(t *testing.T, cn string, parent *testCert) *testCert {
	t.Helper()
	return mintCert(t, cn, parent, false, func(c *x509.Certificate) {
		c.DNSNames = []string{"localhost"}
		c.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
	})
}

// tlsChain builds the serving credential, leaf first.
func tlsChain(leaf *testCert, rest ...*testCert) tls.Certificate {
	pair := tls.Certificate{
		Certificate: [][]byte{leaf.cert.Raw},
		PrivateKey:  leaf.key,
	}
	for _, c := range rest {
		pair.Certificate = append(pair.Certificate, c.cert.Raw)
	}
	return pair
}

func openTestStore(t *testing.T, anchors ...*testCert) *truststore.Store {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "anchors.pem")
	var raw []byte
	for _, c := range anchors {
		raw = append(raw, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.cert.Raw})...)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("writing anchors: %v", err)
	}
	store, err := truststore.Open(path, dir)
	if err != nil {
		t.Fatalf("opening trust store: %v", err)
	}
	return store
}

// startTLSEndpoint runs an HTTPS server with the given chain and returns it.
func startTLSEndpoint(t *testing.T, handler http.Handler, chain tls.Certificate) *httptest.Server {
	t.Helper()
	if handler == nil {
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	}
	ts := httptest.NewUnstartedServer(handler)
	ts.TLS = &tls.Config{Certificates: []tls.Certificate{chain}}
	ts.StartTLS()
	t.Cleanup(ts.Close)
	return ts
}

func poolOf(certs ...*testCert) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c.cert)
	}
	return pool
}
