package scanner

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/khanhnv2901/httpswatch/internal/truststore"
)

// startTLSServer runs an HTTPS server presenting the given chain, leaf
// first, and returns its host and port.
func startTLSServer(t *testing.T, cfg *tls.Config) (string, int) {
	t.Helper()
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.TLS = cfg
	ts.StartTLS()
	t.Cleanup(ts.Close)

	host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	if err != nil {
		t.Fatalf("splitting listener address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing port: %v", err)
	}
	return host, port
}

func openStore(t *testing.T, anchors ...*testCert) *truststore.Store {
	t.Helper()
	dir := t.TempDir()
	path := writeBundle(t, dir, "anchors.pem", anchors...)
	store, err := truststore.Open(path, dir)
	if err != nil {
		t.Fatalf("opening trust store: %v", err)
	}
	return store
}

func TestScanChainTrusted(t *testing.T) {
	ca := mintCert(t, "Test Root", nil, true, nil)
	leaf := serverLeaf(t, "leaf", ca)

	host, port := startTLSServer(t, &tls.Config{Certificates: []tls.Certificate{leaf.tlsPair()}})
	s := &Scanner{Public: openStore(t, ca)}

	scan, err := s.ScanChain(context.Background(), host, port)
	if err != nil {
		t.Fatalf("ScanChain: %v", err)
	}
	if len(scan.Chain) != 1 {
		t.Errorf("chain length = %d, want 1", len(scan.Chain))
	}
	if len(scan.Validations) != 1 {
		t.Fatalf("validations = %d, want 1", len(scan.Validations))
	}
	v := scan.Validations[0]
	if !v.Trusted {
		t.Errorf("public validation not trusted: %s", v.Detail)
	}
	if v.Kind != FailureNone {
		t.Errorf("failure kind = %s, want none", v.Kind)
	}
	if !scan.HostnameValid {
		t.Error("hostname should validate against IP SAN")
	}
	if scan.MissingSAN {
		t.Error("leaf has SANs, MissingSAN should be false")
	}
	if !scan.VerifiedChain {
		t.Error("VerifiedChain should be true")
	}
}

func TestScanChainSelfSigned(t *testing.T) {
	selfSigned := serverLeaf(t, "standalone", nil)
	unrelated := mintCert(t, "Unrelated Root", nil, true, nil)

	host, port := startTLSServer(t, &tls.Config{Certificates: []tls.Certificate{selfSigned.tlsPair()}})
	s := &Scanner{Public: openStore(t, unrelated)}

	scan, err := s.ScanChain(context.Background(), host, port)
	if err != nil {
		t.Fatalf("ScanChain: %v", err)
	}
	v := scan.Validations[0]
	if v.Trusted {
		t.Error("self-signed certificate should not be trusted")
	}
	if v.Kind != FailureSelfSigned {
		t.Errorf("failure kind = %s, want self-signed", v.Kind)
	}
	if scan.VerifiedChain {
		t.Error("VerifiedChain should be false")
	}
}

func TestScanChainExpired(t *testing.T) {
	ca := mintCert(t, "Test Root", nil, true, nil)
	leaf := mintCert(t, "expired-leaf", ca, false, func(c *x509.Certificate) {
		c.DNSNames = []string{"localhost"}
		c.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
		c.NotBefore = time.Now().Add(-48 * time.Hour)
		c.NotAfter = time.Now().Add(-24 * time.Hour)
	})

	host, port := startTLSServer(t, &tls.Config{Certificates: []tls.Certificate{leaf.tlsPair()}})
	s := &Scanner{Public: openStore(t, ca)}

	scan, err := s.ScanChain(context.Background(), host, port)
	if err != nil {
		t.Fatalf("ScanChain: %v", err)
	}
	v := scan.Validations[0]
	if v.Trusted {
		t.Error("expired certificate should not be trusted")
	}
	if v.Kind != FailureExpired {
		t.Errorf("failure kind = %s, want expired", v.Kind)
	}
}

func TestScanChainIncompleteChain(t *testing.T) {
	root := mintCert(t, "Test Root", nil, true, nil)
	intermediate := mintCert(t, "Test Intermediate", root, true, nil)
	leaf := serverLeaf(t, "leaf", intermediate)

	// The server withholds the intermediate.
	host, port := startTLSServer(t, &tls.Config{Certificates: []tls.Certificate{leaf.tlsPair()}})
	s := &Scanner{Public: openStore(t, root)}

	scan, err := s.ScanChain(context.Background(), host, port)
	if err != nil {
		t.Fatalf("ScanChain: %v", err)
	}
	v := scan.Validations[0]
	if v.Trusted {
		t.Error("chain missing its intermediate should not be trusted")
	}
	if v.Kind != FailureIncompleteChain {
		t.Errorf("failure kind = %s, want incomplete-chain", v.Kind)
	}
}

func TestScanChainHostnameMismatch(t *testing.T) {
	ca := mintCert(t, "Test Root", nil, true, nil)
	leaf := mintCert(t, "wrong-host", ca, false, func(c *x509.Certificate) {
		c.DNSNames = []string{"example.gov"}
	})

	host, port := startTLSServer(t, &tls.Config{Certificates: []tls.Certificate{leaf.tlsPair()}})
	s := &Scanner{Public: openStore(t, ca)}

	scan, err := s.ScanChain(context.Background(), host, port)
	if err != nil {
		t.Fatalf("ScanChain: %v", err)
	}
	if scan.HostnameValid {
		t.Error("hostname should not validate against a foreign SAN")
	}
	if scan.MissingSAN {
		t.Error("leaf carries a SAN, MissingSAN should be false")
	}
}

func TestScanChainBothStores(t *testing.T) {
	publicCA := mintCert(t, "Public Root", nil, true, nil)
	customCA := mintCert(t, "Custom Root", nil, true, nil)
	leaf := serverLeaf(t, "leaf", customCA)

	host, port := startTLSServer(t, &tls.Config{Certificates: []tls.Certificate{leaf.tlsPair()}})
	s := &Scanner{
		Public: openStore(t, publicCA),
		Custom: openStore(t, customCA),
	}

	scan, err := s.ScanChain(context.Background(), host, port)
	if err != nil {
		t.Fatalf("ScanChain: %v", err)
	}
	if len(scan.Validations) != 2 {
		t.Fatalf("validations = %d, want 2", len(scan.Validations))
	}
	if scan.Validations[0].Trusted {
		t.Error("public store should not trust the custom-rooted leaf")
	}
	if !scan.Validations[1].Trusted {
		t.Errorf("custom store should trust its own leaf: %s", scan.Validations[1].Detail)
	}
	if !scan.VerifiedChain {
		t.Error("VerifiedChain should be true when any store trusts")
	}
}

func TestTestConnectivity(t *testing.T) {
	leaf := serverLeaf(t, "leaf", nil)
	host, port := startTLSServer(t, &tls.Config{Certificates: []tls.Certificate{leaf.tlsPair()}})

	s := &Scanner{}
	conn, err := s.TestConnectivity(context.Background(), host, port)
	if err != nil {
		t.Fatalf("TestConnectivity: %v", err)
	}
	if conn.IP == nil {
		t.Error("connected IP should be recorded")
	}
	if conn.ClientAuthRequired {
		t.Error("server asked for no client certificate")
	}
}

func TestTestConnectivityClientAuth(t *testing.T) {
	leaf := serverLeaf(t, "leaf", nil)
	// TLS 1.2 so the missing client certificate aborts the handshake
	// itself rather than a later read.
	host, port := startTLSServer(t, &tls.Config{
		Certificates: []tls.Certificate{leaf.tlsPair()},
		ClientAuth:   tls.RequireAnyClientCert,
		MaxVersion:   tls.VersionTLS12,
	})

	s := &Scanner{}
	conn, err := s.TestConnectivity(context.Background(), host, port)
	if err != nil {
		t.Fatalf("TestConnectivity: %v", err)
	}
	if !conn.ClientAuthRequired {
		t.Error("ClientAuthRequired should be set when the server rejects an empty certificate")
	}
}

func TestTestConnectivityRefused(t *testing.T) {
	// Grab a port that nothing listens on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := l.Addr().(*net.TCPAddr)
	l.Close()

	s := &Scanner{Timeout: time.Second}
	if _, err := s.TestConnectivity(context.Background(), "127.0.0.1", addr.Port); err == nil {
		t.Error("expected a connection error for a closed port")
	}
}

func TestScanChainLookupError(t *testing.T) {
	lookupErr := errors.New("no such host")
	s := &Scanner{
		Lookup: func(ctx context.Context, host string) (net.IP, error) {
			return nil, lookupErr
		},
	}
	if _, err := s.ScanChain(context.Background(), "missing.example.gov", 443); !errors.Is(err, lookupErr) {
		t.Errorf("err = %v, want the lookup error", err)
	}
}

func TestVerifiesAgainst(t *testing.T) {
	root := mintCert(t, "Test Root", nil, true, nil)
	intermediate := mintCert(t, "Test Intermediate", root, true, nil)
	leaf := serverLeaf(t, "leaf", intermediate)
	store := openStore(t, root)

	s := &Scanner{}
	if !s.VerifiesAgainst([]*x509.Certificate{leaf.cert, intermediate.cert}, store) {
		t.Error("full chain should verify against its root")
	}
	if s.VerifiesAgainst([]*x509.Certificate{leaf.cert}, store) {
		t.Error("bare leaf should not verify without its intermediate")
	}
	if s.VerifiesAgainst(nil, store) {
		t.Error("empty chain should not verify")
	}
}

func TestIsTransientTimeout(t *testing.T) {
	if IsTransientTimeout(nil) {
		t.Error("nil error is not a timeout")
	}
	if IsTransientTimeout(errors.New("handshake failure")) {
		t.Error("generic error is not a timeout")
	}
	if !IsTransientTimeout(context.DeadlineExceeded) {
		t.Error("deadline exceeded is a timeout")
	}
	opErr := &net.OpError{Op: "dial", Err: timeoutError{}}
	if !IsTransientTimeout(opErr) {
		t.Error("timing-out net.Error is a timeout")
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
