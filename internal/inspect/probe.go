package inspect

import (
	"context"
	"crypto/x509"
	"strings"

	"go.uber.org/zap"

	"github.com/khanhnv2901/httpswatch/internal/refdata"
	"github.com/khanhnv2901/httpswatch/internal/scanner"
)

// Prober drives the per-endpoint probe: an initial verified request, the
// unverified retry on TLS failure, liveness and header capture, redirect
// classification, the optional ADFS sub-probe, and the redirect-chain
// trace. HTTPS endpoints additionally go through the certificate
// evaluator.
type Prober struct {
	opts          Options
	resolver      *Resolver
	roots         func() (*x509.CertPool, error)
	evaluator     *Evaluator
	intermediates *scanner.IntermediateResolver
	refdata       *refdata.Store
	log           *zap.SugaredLogger
}

// Probe populates ep in place. Liveness follows a last-assignment-wins
// discipline: a certificate failure on the retry still counts as live,
// and only hard network failures leave the endpoint dead.
func (p *Prober) Probe(ctx context.Context, ep *Endpoint) {
	p.log.Debugf("pinging %s...", ep.URL)

	var resp *pingResponse

	r, chain, err := p.ping(ctx, ep.URL, pingOptions{verify: true})
	switch classifyFailure(err) {
	case failureNone:
		resp = r
		ep.Live = true
		if ep.Protocol == ProtocolHTTPS {
			ep.HTTPSFullConnection = ptrBool(true)
			ep.HTTPSValid = ptrBool(true)
		}

	case failureTLSClientAuth:
		p.log.Warnf("%s: client certificate required, will assume HTTPS is valid", ep.URL)
		ep.Live = true
		if ep.Protocol == ProtocolHTTPS {
			ep.HTTPSFullConnection = ptrBool(false)
			ep.HTTPSValid = ptrBool(true)
		}

	case failureTLS:
		// Certificate is bad for some reason. Retry without validation
		// to see whether the endpoint answers at all.
		if ep.Protocol == ProtocolHTTPS {
			ep.HTTPSFullConnection = ptrBool(false)
		}
		r2, retryChain, err2 := p.ping(ctx, ep.URL, pingOptions{verify: false})
		if len(retryChain) > 0 {
			chain = retryChain
		}
		switch classifyFailure(err2) {
		case failureNone:
			resp = r2
			ep.Live = true
			if ep.Protocol == ProtocolHTTPS {
				ep.HTTPSFullConnection = ptrBool(true)
				ep.HTTPSValid = ptrBool(true)
			}
		case failureTLS, failureTLSClientAuth:
			// Still a TLS-layer refusal: the certificate itself may be
			// fine, so let the evaluator decide validity.
			ep.Live = true
			if ep.Protocol == ProtocolHTTPS {
				ep.HTTPSValid = ptrBool(true)
			}
		case failureDNS, failureConnection, failureTransport:
			p.log.Debugf("%s: retry failed: %v", ep.URL, err2)
			ep.Live = false
			return
		default:
			p.log.Warnf("%s: unexpected retry failure: %v", ep.URL, err2)
			ep.UnknownError = true
			return
		}
		// Any served chain is fed to the intermediate resolver while we
		// have it, so that a repaired trust store is in place before
		// evaluation.
		if ep.Protocol == ProtocolHTTPS && len(chain) > 0 {
			p.intermediates.Resolve(ctx, ep.URL, chain)
		}
		ep.Live = true

	case failureConnection:
		if ep.Protocol == ProtocolHTTPS {
			ep.HTTPSFullConnection = ptrBool(false)
			ep.HTTPSValid = ptrBool(true)
		} else {
			ep.Live = false
		}
		// No return: the handshake-level scan below may still succeed.

	case failureDNS, failureTransport:
		p.log.Debugf("%s: request failed: %v", ep.URL, err)
		ep.Live = false
		return

	default:
		p.log.Warnf("%s: unexpected failure: %v", ep.URL, err)
		ep.UnknownError = true
		return
	}

	if ep.Protocol == ProtocolHTTPS {
		p.evaluator.Evaluate(ctx, ep, true)

		// A response in hand contradicts a dead verdict from the
		// evaluator. Give it one more chance before trusting it.
		if !ep.Live && resp != nil {
			p.log.Warnf("%s: scan says endpoint is down but a request succeeded, retrying scan", ep.URL)
			ep.Live = true
			ep.HTTPSValid = ptrBool(true)
			p.evaluator.Evaluate(ctx, ep, true)
			if !ep.Live {
				resp = nil
				ep.HTTPSValid = ptrBool(false)
				ep.HTTPSFullConnection = ptrBool(false)
			}
		}
	}

	if resp == nil {
		if ep.Protocol == ProtocolHTTPS {
			ep.HTTPSFullConnection = ptrBool(false)
		}
		return
	}

	if resp.IP != "" {
		if ep.IP == "" {
			ep.IP = resp.IP
		} else if ep.IP != resp.IP {
			p.log.Debugf("%s: scan IP %s and request IP %s differ", ep.URL, ep.IP, resp.IP)
		}
	}

	ep.Status = resp.Status
	ep.Headers = resp.Headers
	if server := resp.Headers.Get("Server"); server != "" {
		ep.ServerHeader = server
		ep.ServerVersion = serverVersion(server)
	}

	if loc := resp.Headers.Get("Location"); loc != "" && resp.Status >= 300 && resp.Status < 400 {
		ep.Redirect = true
		p.log.Debugf("%s redirects to %s", ep.URL, loc)
		p.followRedirects(ctx, ep, loc)
	}

	// Domains behind an AD FS proxy often only reveal HSTS on the
	// federation endpoint.
	if p.opts.ScanADFS && ep.Protocol == ProtocolHTTPS && !boolVal(ep.HTTPSBadHostname) {
		hstsCheck(ep)
		if !boolVal(ep.HSTS) {
			p.probeADFS(ctx, ep)
		}
	}

	checkRedirectChain(ep)
}

// followRedirects classifies the immediate redirect target and traces the
// chain to its eventual destination, recording external/subdomain/www and
// protocol facts about both.
func (p *Prober) followRedirects(ctx context.Context, ep *Endpoint, location string) {
	immediate, err := absoluteLocation(ep.URL, location)
	if err != nil {
		p.log.Warnf("%s: error parsing redirect location %q: %v", ep.URL, location, err)
		ep.UnknownError = true
		return
	}

	hostOriginal := hostnameOf(ep.URL)
	baseOriginal, err := p.baseDomain(hostOriginal)
	if err != nil {
		ep.UnknownError = true
		return
	}
	hostImmediate := hostnameOf(immediate)
	baseImmediate, err := p.baseDomain(hostImmediate)
	if err != nil {
		ep.UnknownError = true
		return
	}

	ep.RedirectImmediatelyTo = immediate
	ep.RedirectImmediatelyToHTTPS = strings.HasPrefix(immediate, "https://")
	ep.RedirectImmediatelyToHTTP = strings.HasPrefix(immediate, "http://")
	ep.RedirectImmediatelyToExternal = baseOriginal != baseImmediate
	ep.RedirectImmediatelyToSubdomain = baseOriginal == baseImmediate && hostImmediate != hostOriginal
	ep.RedirectImmediatelyToWWW = hostImmediate == "www."+hostOriginal

	ultimate, _, err := p.ping(ctx, ep.URL, pingOptions{follow: true, verify: false})
	switch classifyFailure(err) {
	case failureNone:
	case failureUnknown:
		p.log.Warnf("%s: unexpected failure following redirects: %v", ep.URL, err)
		ep.UnknownError = true
		return
	default:
		p.log.Debugf("%s: error following redirects: %v", ep.URL, err)
	}

	if ultimate != nil {
		eventual := ultimate.URL
		hostEventual := hostnameOf(eventual)
		baseEventual, err := p.baseDomain(hostEventual)
		if err != nil {
			ep.UnknownError = true
			return
		}
		ep.RedirectEventuallyTo = eventual
		ep.RedirectEventuallyToHTTPS = strings.HasPrefix(eventual, "https://")
		ep.RedirectEventuallyToHTTP = strings.HasPrefix(eventual, "http://")
		ep.RedirectEventuallyToExternal = baseOriginal != baseEventual
		ep.RedirectEventuallyToSubdomain = baseOriginal == baseEventual && hostEventual != hostOriginal
		ep.ultimateHops = ultimate.Hops
	} else if ep.RedirectImmediatelyToExternal {
		// The first hop left the domain and the chain could not be
		// followed; what we know about the immediate hop is the best
		// available answer for the eventual one.
		ep.RedirectEventuallyTo = immediate
		ep.RedirectEventuallyToHTTPS = ep.RedirectImmediatelyToHTTPS
		ep.RedirectEventuallyToHTTP = ep.RedirectImmediatelyToHTTP
		ep.RedirectEventuallyToExternal = true
	}
}

// probeADFS checks the conventional AD FS sign-in path for an HSTS header
// that the site root does not send.
func (p *Prober) probeADFS(ctx context.Context, ep *Endpoint) {
	adfsURL := ep.URL + "/adfs/ls/"
	p.log.Debugf("pinging %s...", adfsURL)
	r, _, err := p.ping(ctx, adfsURL, pingOptions{verify: false})
	if err != nil {
		if classifyFailure(err) == failureUnknown {
			p.log.Warnf("%s: unexpected failure: %v", adfsURL, err)
		} else {
			p.log.Debugf("%s: request failed: %v", adfsURL, err)
		}
		return
	}
	if r.Status == 200 && r.Headers.Get("Strict-Transport-Security") != "" {
		ep.adfsHop = &Hop{URL: adfsURL, Status: r.Status, Headers: r.Headers}
	}
}

func (p *Prober) baseDomain(hostname string) (string, error) {
	base, err := p.refdata.BaseDomain(hostname)
	if err != nil {
		p.log.Errorf("%s: base domain lookup failed: %v", hostname, err)
		return "", err
	}
	return base, nil
}

// serverVersion pulls a version number out of a Server header value, e.g.
// "Apache/2.4.41 (Ubuntu)" yields "2.4.41".
func serverVersion(server string) string {
	slash := strings.Index(server, "/")
	if slash < 0 {
		return ""
	}
	rest := server[slash+1:]
	if space := strings.Index(rest, " "); space >= 0 {
		rest = rest[:space]
	}
	return rest
}
