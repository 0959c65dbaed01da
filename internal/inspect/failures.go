package inspect

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
)

// failureKind is the closed classification of a probe failure. Each stage
// of the prober matches over this enumeration instead of inspecting raw
// errors, so every failure path lands in a specific endpoint state.
type failureKind int

const (
	failureNone failureKind = iota
	// failureDNS: name resolution failed.
	failureDNS
	// failureTLSClientAuth: the handshake-failure signature servers emit
	// when they require a client certificate.
	failureTLSClientAuth
	// failureTLS: any other TLS handshake or certificate error.
	failureTLS
	// failureConnection: a connection-level error (refused, reset,
	// timed out).
	failureConnection
	// failureTransport: a recognized HTTP transport error that is not
	// connection-level, e.g. too many redirects or a malformed response.
	failureTransport
	// failureUnknown: nothing matched; flagged per endpoint rather than
	// propagated, so one malformed response cannot sink a batch run.
	failureUnknown
)

func (k failureKind) String() string {
	switch k {
	case failureNone:
		return "none"
	case failureDNS:
		return "dns"
	case failureTLSClientAuth:
		return "tls-client-auth"
	case failureTLS:
		return "tls"
	case failureConnection:
		return "connection"
	case failureTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// classifyFailure maps an error chain from the HTTP client onto the closed
// failure set. Order matters: DNS and TLS causes are wrapped in
// *net.OpError and *url.Error, so the specific checks run first.
func classifyFailure(err error) failureKind {
	if err == nil {
		return failureNone
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return failureDNS
	}

	if isClientAuthSignature(err) {
		return failureTLSClientAuth
	}
	if isTLSFailure(err) {
		return failureTLS
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return failureConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failureConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return failureConnection
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return failureTransport
	}

	return failureUnknown
}

// clientAuthAlerts are the alert messages servers send when no client
// certificate is offered: handshake_failure, bad_certificate and
// certificate_required. crypto/tls keeps its alert type unexported, so the
// message text is the only stable handle on them.
var clientAuthAlerts = []string{
	"handshake failure",
	"bad certificate",
	"certificate required",
}

// isClientAuthSignature matches the handshake pattern of servers that
// abort when no client certificate is offered: a certificate-demand alert,
// or the connection cut mid-handshake.
func isClientAuthSignature(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	for _, alert := range clientAuthAlerts {
		if strings.Contains(msg, alert) {
			return true
		}
	}
	return false
}

func isTLSFailure(err error) bool {
	var (
		certInvalid    x509.CertificateInvalidError
		unknownAuth    x509.UnknownAuthorityError
		hostnameErr    x509.HostnameError
		systemRootsErr x509.SystemRootsError
		recordErr      tls.RecordHeaderError
		verifyErr      *tls.CertificateVerificationError
		alertErr       tls.AlertError
	)
	switch {
	case errors.As(err, &certInvalid),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostnameErr),
		errors.As(err, &systemRootsErr),
		errors.As(err, &recordErr),
		errors.As(err, &verifyErr),
		errors.As(err, &alertErr):
		return true
	}
	// Remote alerts and protocol failures surface as opaque errors with a
	// "tls:" prefix somewhere in the chain.
	return strings.Contains(err.Error(), "tls:")
}
