// Package scanner performs independent TLS connectivity tests and
// certificate-chain validation scans against one or more trust stores, and
// resolves missing intermediate certificates referenced by a served chain.
// It is the authority the inspection pipeline consults for HTTPS liveness
// and certificate validity, separate from the HTTP probe's own connection.
package scanner

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/khanhnv2901/httpswatch/internal/truststore"
)

// LookupFunc resolves a hostname to the IP used for the underlying
// connection. Injected so the scanner shares the pipeline's cached resolver.
type LookupFunc func(ctx context.Context, host string) (net.IP, error)

// FailureKind is the closed set of certificate validation failures the
// evaluator distinguishes.
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureExpired: the certificate is outside its validity window.
	FailureExpired
	// FailureSelfSigned: the leaf is its own issuer and signs itself.
	FailureSelfSigned
	// FailureIncompleteChain: no path to a trust anchor could be built,
	// typically a missing intermediate.
	FailureIncompleteChain
	// FailureOther: validation failed for a reason outside the closed set.
	FailureOther
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureExpired:
		return "expired"
	case FailureSelfSigned:
		return "self-signed"
	case FailureIncompleteChain:
		return "incomplete-chain"
	default:
		return "other"
	}
}

// Validation is the outcome of chain validation against one trust store.
type Validation struct {
	Store   string
	Trusted bool
	Kind    FailureKind
	Detail  string
}

// Connectivity is the result of the standalone TLS connectivity test.
type Connectivity struct {
	IP                 net.IP
	ClientAuthRequired bool
}

// ChainScan is the result of a certificate scan: the chain exactly as the
// peer served it (leaf first) plus per-store path validation outcomes.
type ChainScan struct {
	Chain         []*x509.Certificate
	Validations   []Validation
	HostnameValid bool
	MissingSAN    bool
	// VerifiedChain reports whether at least one store produced a fully
	// verified path for the served chain.
	VerifiedChain bool
}

// Scanner runs connectivity tests and chain scans. Public is always set;
// Custom is nil unless the caller configured a custom CA bundle.
type Scanner struct {
	Timeout time.Duration
	Lookup  LookupFunc
	Logger  *zap.SugaredLogger
	Public  *truststore.Store
	Custom  *truststore.Store
}

func (s *Scanner) log() *zap.SugaredLogger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop().Sugar()
}

func (s *Scanner) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 5 * time.Second
}

// TestConnectivity dials host:port and completes a TLS handshake with
// verification disabled, reporting the connected IP and whether the server
// refuses handshakes lacking a client certificate.
func (s *Scanner) TestConnectivity(ctx context.Context, host string, port int) (*Connectivity, error) {
	conn, ip, certRequested, err := s.handshake(ctx, host, port)
	if err != nil {
		if certRequested {
			// Server demanded a client certificate and aborted when we
			// offered none. The endpoint is reachable; the handshake
			// failure is a policy, not an outage.
			s.log().Warnf("%s:%d: client authentication required", host, port)
			return &Connectivity{IP: ip, ClientAuthRequired: true}, nil
		}
		return nil, err
	}
	conn.Close()
	return &Connectivity{IP: ip}, nil
}

// ScanChain performs a fresh handshake to capture the served certificate
// chain and validates it against every configured trust store.
func (s *Scanner) ScanChain(ctx context.Context, host string, port int) (*ChainScan, error) {
	conn, _, _, err := s.handshake(ctx, host, port)
	if err != nil {
		return nil, err
	}
	chain := conn.ConnectionState().PeerCertificates
	conn.Close()
	if len(chain) == 0 {
		return nil, fmt.Errorf("scanner: %s:%d served no certificates", host, port)
	}

	scan := &ChainScan{Chain: chain}
	leaf := chain[0]

	scan.MissingSAN = len(leaf.DNSNames) == 0 && len(leaf.IPAddresses) == 0
	scan.HostnameValid = leaf.VerifyHostname(host) == nil

	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}

	for _, store := range []*truststore.Store{s.Public, s.Custom} {
		if store == nil {
			continue
		}
		v := s.validate(leaf, intermediates, store)
		scan.Validations = append(scan.Validations, v)
		if v.Trusted {
			scan.VerifiedChain = true
		}
	}
	return scan, nil
}

// VerifiesAgainst reports whether the leaf of chain builds a verified path
// to the given store's anchors. Used for the supplemental
// public-intermediates re-scan.
func (s *Scanner) VerifiesAgainst(chain []*x509.Certificate, store *truststore.Store) bool {
	if len(chain) == 0 || store == nil {
		return false
	}
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	return s.validate(chain[0], intermediates, store).Trusted
}

func (s *Scanner) validate(leaf *x509.Certificate, intermediates *x509.CertPool, store *truststore.Store) Validation {
	v := Validation{Store: store.Label()}
	pool, err := store.Pool()
	if err != nil {
		v.Kind = FailureOther
		v.Detail = err.Error()
		return v
	}
	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:         pool,
		Intermediates: intermediates,
	})
	if err == nil {
		v.Trusted = true
		return v
	}
	v.Kind = classifyVerifyError(err, leaf)
	v.Detail = err.Error()
	return v
}

func classifyVerifyError(err error, leaf *x509.Certificate) FailureKind {
	switch e := err.(type) {
	case x509.CertificateInvalidError:
		if e.Reason == x509.Expired {
			return FailureExpired
		}
		return FailureOther
	case x509.UnknownAuthorityError:
		if isSelfSigned(leaf) {
			return FailureSelfSigned
		}
		return FailureIncompleteChain
	default:
		return FailureOther
	}
}

func isSelfSigned(cert *x509.Certificate) bool {
	if cert.Subject.String() != cert.Issuer.String() {
		return false
	}
	return cert.CheckSignatureFrom(cert) == nil
}

// handshake resolves host, dials, and completes a verification-disabled TLS
// handshake. certRequested reports whether the server asked for a client
// certificate, which it does before any handshake failure caused by the
// missing certificate.
func (s *Scanner) handshake(ctx context.Context, host string, port int) (conn *tls.Conn, ip net.IP, certRequested bool, err error) {
	addr := host
	if s.Lookup != nil {
		ip, err = s.Lookup(ctx, host)
		if err != nil {
			return nil, nil, false, err
		}
		addr = ip.String()
	}

	dialer := &net.Dialer{Timeout: s.timeout()}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return nil, ip, false, err
	}
	if ip == nil {
		if tcpAddr, ok := raw.RemoteAddr().(*net.TCPAddr); ok {
			ip = tcpAddr.IP
		}
	}

	cfg := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true,
		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			certRequested = true
			return &tls.Certificate{}, nil
		},
	}
	conn = tls.Client(raw, cfg)
	if err := conn.SetDeadline(time.Now().Add(s.timeout())); err != nil {
		raw.Close()
		return nil, ip, certRequested, err
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, ip, certRequested, err
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, ip, certRequested, nil
}

// IsTransientTimeout reports whether a scan failure looks like a timeout
// worth retrying exactly once.
func IsTransientTimeout(err error) bool {
	if err == nil {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
