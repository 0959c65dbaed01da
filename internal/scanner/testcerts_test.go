package scanner

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
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testCert pairs a certificate with its private key so it can sign
// children or serve TLS.
type testCert struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// mintCert issues a certificate. A nil parent produces a self-signed one.
// mutate, if non-nil, adjusts the template before signing.
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

// serverLeaf mints a leaf valid for 127.0.0.1 and localhost.
func serverLeaf(t *testing.T, cn string, parent *testCert) *testCert {
	t.Helper()
	return mintCert(t, cn, parent, false, func(c *x509.Certificate) {
		c.DNSNames = []string{"localhost"}
		c.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
	})
}

func (tc *testCert) tlsPair() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{tc.cert.Raw},
		PrivateKey:  tc.key,
	}
}

func (tc *testCert) pemBytes() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: tc.cert.Raw})
}

// writeBundle writes certificates to a PEM file and returns its path.
func writeBundle(t *testing.T, dir, name string, certs ...*testCert) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var raw []byte
	for _, c := range certs {
		raw = append(raw, c.pemBytes()...)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("writing bundle: %v", err)
	}
	return path
}
