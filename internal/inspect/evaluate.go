package inspect

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/khanhnv2901/httpswatch/internal/scanner"
	"github.com/khanhnv2901/httpswatch/internal/truststore"
)

// Evaluator re-verifies an HTTPS endpoint independently of the probe's own
// connection: a fresh connectivity test, a chain scan against the public
// and (optional) custom trust stores, failure classification, and the
// missing-intermediate repair loop.
type Evaluator struct {
	scanner       *scanner.Scanner
	intermediates *scanner.IntermediateResolver
	// ptInt is the supplemental public-intermediates bundle, or nil. When a
	// custom store trusts a short chain the public store rejects, a re-scan
	// against it can flip public trust back on.
	ptInt *truststore.Store
	names *CertNameSink
	log   *zap.SugaredLogger
}

// Evaluate mutates ep's TLS fields. checkIntermediate gates one recursive
// re-evaluation after intermediate resolution; the recursive call passes
// false so a chain that stays broken cannot loop.
func (ev *Evaluator) Evaluate(ctx context.Context, ep *Endpoint, checkIntermediate bool) {
	ev.log.Debugf("scanning %s...", ep.URL)
	host, port := scanTarget(ep.URL)

	conn, err := ev.scanner.TestConnectivity(ctx, host, port)
	if err != nil {
		switch classifyFailure(err) {
		case failureUnknown:
			ev.log.Warnf("%s: unexpected failure during connectivity test: %v", ep.URL, err)
			ep.UnknownError = true
		default:
			ev.log.Debugf("%s: connectivity test failed: %v", ep.URL, err)
			ep.Live = false
			ep.HTTPSValid = ptrBool(false)
		}
		return
	}

	ep.Live = true
	if conn.IP != nil {
		if ep.IP == "" {
			ep.IP = conn.IP.String()
		} else if ep.IP != conn.IP.String() {
			ev.log.Debugf("%s: request IP %s and scan IP %s differ", ep.URL, ep.IP, conn.IP)
		}
	}
	if conn.ClientAuthRequired {
		ep.HTTPSClientAuthRequired = true
		ev.log.Warnf("%s: client authentication required", ep.URL)
	}

	scan, err := ev.scanner.ScanChain(ctx, host, port)
	if err != nil && scanner.IsTransientTimeout(err) {
		ev.log.Warnf("%s: timed out scanning certificates, retrying", ep.URL)
		scan, err = ev.scanner.ScanChain(ctx, host, port)
	}
	if err != nil {
		// The scan failing outright leaves validity unknown, not false:
		// the connectivity test above already succeeded.
		ev.log.Warnf("%s: certificate scan failed: %v", ep.URL, err)
		ep.UnknownError = true
		ep.HTTPSValid = nil
		return
	}

	// Validations come back in store order: public first, then the custom
	// store when one is configured.
	publicTrusted := true
	var customTrusted *bool
	publicValidation := scan.Validations[0]
	activeValidation := publicValidation
	if !publicValidation.Trusted {
		publicTrusted = false
		ev.log.Debugf("%s: not trusted by public store: %s", ep.URL, publicValidation.Detail)
	}
	if len(scan.Validations) > 1 {
		custom := scan.Validations[1]
		activeValidation = custom
		customTrusted = ptrBool(custom.Trusted)
		if !custom.Trusted {
			ev.log.Debugf("%s: not trusted by custom store: %s", ep.URL, custom.Detail)
		}
	}

	if checkIntermediate && !publicTrusted && !boolVal(customTrusted) {
		if resolved, _ := ev.intermediates.Resolve(ctx, ep.URL, scan.Chain); resolved {
			ev.Evaluate(ctx, ep, false)
			return
		}
	}

	ev.names.Record(ep.URL, scan.Chain)

	ep.HTTPSPublicTrusted = ptrBool(publicTrusted)
	ep.HTTPSCustomTrusted = customTrusted
	if !publicTrusted && !boolVal(customTrusted) {
		ep.HTTPSValid = ptrBool(false)
	}

	ep.HTTPSExpiredCert = ptrBool(false)
	ep.HTTPSSelfSignedCert = ptrBool(false)
	ep.HTTPSBadChain = ptrBool(false)
	ep.HTTPSBadHostname = ptrBool(scan.MissingSAN || !scan.HostnameValid)

	if !activeValidation.Trusted {
		switch activeValidation.Kind {
		case scanner.FailureExpired:
			ep.HTTPSExpiredCert = ptrBool(true)
		case scanner.FailureSelfSigned:
			ep.HTTPSSelfSignedCert = ptrBool(true)
			ep.HTTPSBadChain = ptrBool(true)
		case scanner.FailureIncompleteChain:
			ep.HTTPSBadChain = ptrBool(true)
		}
	}

	chainLen := len(scan.Chain)
	ep.HTTPSCertChainLen = ptrInt(chainLen)
	if !boolVal(ep.HTTPSSelfSignedCert) && chainLen < 2 {
		ep.HTTPSMissingIntermediateCert = ptrBool(true)
		if !scan.VerifiedChain {
			ev.log.Warnf("%s: untrusted chain of length %d, probably missing intermediate certificate", ep.URL, chainLen)
		} else if boolVal(customTrusted) && !publicTrusted && ev.ptInt != nil {
			// A custom bundle can carry the intermediates a short chain
			// omits; check whether public intermediates do too.
			if ev.scanner.VerifiesAgainst(scan.Chain, ev.ptInt) {
				ep.HTTPSPublicTrusted = ptrBool(true)
				ev.log.Warnf("%s: trusted by the supplemental public intermediates bundle", ep.URL)
			}
		}
	} else {
		ep.HTTPSMissingIntermediateCert = ptrBool(false)
	}

	if boolVal(ep.HTTPSExpiredCert) || boolVal(ep.HTTPSSelfSignedCert) ||
		boolVal(ep.HTTPSBadChain) || boolVal(ep.HTTPSBadHostname) {
		ep.HTTPSValid = ptrBool(false)
	}
}

// scanTarget extracts the host and port to scan from an endpoint URL,
// defaulting to 443 when the URL carries no explicit port.
func scanTarget(rawURL string) (string, int) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.TrimPrefix(rawURL, "https://"), 443
	}
	port := 443
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return u.Hostname(), port
}
