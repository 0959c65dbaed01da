package inspect

import (
	"strings"

	"go.uber.org/zap"

	"github.com/khanhnv2901/httpswatch/internal/refdata"
)

// Domain-level judgments. Pure functions over a fully-populated Domain;
// tri-state facts (unknown vs definite false) come back as pointers.

// isLive: any endpoint is live.
func isLive(d *Domain) bool {
	return d.HTTP.Live || d.HTTPWWW.Live || d.HTTPS.Live || d.HTTPSWWW.Live
}

// isHTTPSLive: any https endpoint is live.
func isHTTPSLive(d *Domain) bool {
	return d.HTTPS.Live || d.HTTPSWWW.Live
}

// isFullConnection: any https endpoint completed a full TLS connection.
func isFullConnection(d *Domain) bool {
	return boolVal(d.HTTPS.HTTPSFullConnection) || boolVal(d.HTTPSWWW.HTTPSFullConnection)
}

// isClientAuthRequired: any https endpoint demands a client certificate.
func isClientAuthRequired(d *Domain) bool {
	return d.HTTPS.HTTPSClientAuthRequired || d.HTTPSWWW.HTTPSClientAuthRequired
}

// isRedirectOrDown: the endpoint redirects off the domain or is down in
// one of three ways: not live, https with a bad hostname, or a 4xx/5xx.
func isRedirectOrDown(ep *Endpoint) bool {
	return ep.RedirectEventuallyToExternal ||
		!ep.Live ||
		(ep.Protocol == ProtocolHTTPS && boolVal(ep.HTTPSBadHostname)) ||
		ep.Status >= 400
}

// isRedirectEndpoint: the endpoint eventually redirects off the domain.
func isRedirectEndpoint(ep *Endpoint) bool {
	return ep.RedirectEventuallyToExternal
}

// isRedirectDomain: at least one endpoint is a redirect and every endpoint
// is either a redirect or down.
func isRedirectDomain(d *Domain) bool {
	return isLive(d) &&
		(isRedirectEndpoint(d.HTTP) || isRedirectEndpoint(d.HTTPWWW) ||
			isRedirectEndpoint(d.HTTPS) || isRedirectEndpoint(d.HTTPSWWW)) &&
		isRedirectOrDown(d.HTTPS) && isRedirectOrDown(d.HTTPSWWW) &&
		isRedirectOrDown(d.HTTPWWW) && isRedirectOrDown(d.HTTP)
}

// isHTTPRedirectDomain: same, restricted to the http endpoints.
func isHTTPRedirectDomain(d *Domain) bool {
	return isLive(d) &&
		(isRedirectEndpoint(d.HTTP) || isRedirectEndpoint(d.HTTPWWW)) &&
		isRedirectOrDown(d.HTTPWWW) && isRedirectOrDown(d.HTTP)
}

func redirectsTo(d *Domain) string {
	if isRedirectDomain(d) {
		return d.Canonical.RedirectEventuallyTo
	}
	return ""
}

// httpsEvaluate is the https variant of the canonical hostname: the root
// https endpoint unless the canonical endpoint is at www.
func httpsEvaluate(d *Domain) *Endpoint {
	return d.canonicalHTTPS()
}

// isValidHTTPS: valid HTTPS means responding on 443 at the canonical
// hostname with an unexpired certificate valid for it. Unknown when the
// endpoint is live but validity was never determined.
func isValidHTTPS(d *Domain) *bool {
	ev := httpsEvaluate(d)
	if !ev.Live {
		return ptrBool(false)
	}
	return ev.HTTPSValid
}

func isPubliclyTrusted(d *Domain) *bool {
	ev := httpsEvaluate(d)
	if !ev.Live {
		return ptrBool(false)
	}
	return ev.HTTPSPublicTrusted
}

func isCustomTrusted(d *Domain) *bool {
	ev := httpsEvaluate(d)
	if !ev.Live {
		return ptrBool(false)
	}
	return ev.HTTPSCustomTrusted
}

// isDefaultsToHTTPS: the canonical endpoint itself is https.
func isDefaultsToHTTPS(d *Domain) bool {
	return d.Canonical.Protocol == ProtocolHTTPS
}

// isDowngradesHTTPS: HTTPS is supported in some way, but the canonical
// https endpoint immediately redirects internally to plain http.
func isDowngradesHTTPS(d *Domain) bool {
	supports := (d.HTTPS.Live && !boolVal(d.HTTPS.HTTPSBadHostname)) ||
		(d.HTTPSWWW.Live && !boolVal(d.HTTPSWWW.HTTPSBadHostname))
	ch := d.canonicalHTTPS()
	return supports && ch.RedirectImmediatelyToHTTP && !ch.RedirectImmediatelyToExternal
}

// isStrictlyForcesHTTPS: some https endpoint is live and both http
// endpoints are down or redirect immediately to an https URI, even one on
// another domain. A domain with an invalid certificate can still strictly
// force HTTPS.
func isStrictlyForcesHTTPS(d *Domain) bool {
	downOrUpgrades := func(ep *Endpoint) bool {
		return !ep.Live || ep.RedirectImmediatelyToHTTPS
	}
	return (d.HTTPS.Live || d.HTTPSWWW.Live) &&
		downOrUpgrades(d.HTTP) && downOrUpgrades(d.HTTPWWW)
}

func isBadChain(d *Domain) *bool    { return d.canonicalHTTPS().HTTPSBadChain }
func isBadHostname(d *Domain) *bool { return d.canonicalHTTPS().HTTPSBadHostname }
func isExpiredCert(d *Domain) *bool { return d.canonicalHTTPS().HTTPSExpiredCert }
func isSelfSignedCert(d *Domain) *bool {
	return d.canonicalHTTPS().HTTPSSelfSignedCert
}
func certChainLength(d *Domain) *int { return d.canonicalHTTPS().HTTPSCertChainLen }
func isMissingIntermediateCert(d *Domain) *bool {
	return d.canonicalHTTPS().HTTPSMissingIntermediateCert
}

// isHSTS combines both live https endpoints' flags with AND, then reports
// the canonical endpoint's own flag anyway, logging when the two disagree.
// The stricter combined semantics are intentionally not enforced.
func isHSTS(d *Domain, log *zap.SugaredLogger) *bool {
	https, httpswww := d.HTTPS, d.HTTPSWWW
	if !https.Live && !httpswww.Live {
		return nil
	}

	var combined *bool
	if https.Live && https.HSTS != nil {
		combined = ptrBool(*https.HSTS)
	}
	if httpswww.Live && httpswww.HSTS != nil {
		if combined == nil {
			combined = ptrBool(*httpswww.HSTS)
		} else {
			*combined = *combined && *httpswww.HSTS
		}
	}

	canonical := d.canonicalHTTPS().HSTS
	if (canonical == nil) != (combined == nil) ||
		(canonical != nil && *canonical != *combined) {
		log.Debugf("%s: HSTS differs between the canonical endpoint and the combined https endpoints", d.Domain)
	}
	return canonical
}

func hstsHeaderFor(d *Domain) string { return d.canonicalHTTPS().HSTSHeader }
func hstsMaxAge(d *Domain) *int      { return d.canonicalHTTPS().HSTSMaxAge }

// isHSTSEntireDomain: whether the root https endpoint covers subdomains.
func isHSTSEntireDomain(d *Domain) bool {
	return d.HTTPS.HSTSAllSubdomains
}

// isHSTSPreloadReady: the root https endpoint carries a max-age of at
// least eighteen weeks plus the includeSubDomains and preload directives.
func isHSTSPreloadReady(d *Domain) bool {
	https := d.HTTPS
	eighteenWeeks := https.HSTSMaxAge != nil && *https.HSTSMaxAge >= 10886400
	return eighteenWeeks && https.HSTSAllSubdomains && https.HSTSPreload
}

// isHSTSPreloadPending: formally pending inclusion in Chrome's preload
// list. Fails if the pending list was never loaded.
func isHSTSPreloadPending(d *Domain, ref *refdata.Store) (bool, error) {
	pending, err := ref.PreloadPending(d.Domain)
	if err != nil {
		return false, err
	}
	if _, ok := d.PreloadPending[d.Domain]; ok {
		return true, nil
	}
	return pending, nil
}

// isHSTSPreloaded: contained in Chrome's preload list, consulting an
// injected per-domain snapshot first. Fails if the list was never loaded.
func isHSTSPreloaded(d *Domain, ref *refdata.Store) (bool, error) {
	preloaded, err := ref.Preloaded(d.Domain)
	if err != nil {
		return false, err
	}
	if _, ok := d.PreloadList[d.Domain]; ok {
		return true, nil
	}
	return preloaded, nil
}

// isParentHSTSPreloaded: whether the registered base domain is preloaded.
func isParentHSTSPreloaded(d *Domain, ref *refdata.Store) (bool, error) {
	base, err := ref.BaseDomain(d.Domain)
	if err != nil {
		return false, err
	}
	if _, ok := d.PreloadList[base]; ok {
		return true, nil
	}
	return ref.Preloaded(base)
}

// isDomainSupportsHTTPS: no downgrade and valid HTTPS, or no downgrade
// with a bad chain but a good hostname. Bad-chain domains "support" HTTPS
// but user-side errors should be expected.
func isDomainSupportsHTTPS(d *Domain) bool {
	downgrades := isDowngradesHTTPS(d)
	return (!downgrades && boolVal(isValidHTTPS(d))) ||
		(!downgrades && boolVal(isBadChain(d)) && !boolVal(isBadHostname(d)))
}

// isDomainEnforcesHTTPS: supports HTTPS, strictly forces it, and either
// defaults to HTTPS or is an http redirect domain.
func isDomainEnforcesHTTPS(d *Domain) bool {
	return isDomainSupportsHTTPS(d) && isStrictlyForcesHTTPS(d) &&
		(isDefaultsToHTTPS(d) || isHTTPRedirectDomain(d))
}

// isDomainStrongHSTS: max-age of at least a year; unknown when HSTS or
// max-age were never established.
func isDomainStrongHSTS(d *Domain, log *zap.SugaredLogger) *bool {
	hsts := isHSTS(d, log)
	age := hstsMaxAge(d)
	if boolVal(hsts) && age != nil && *age != 0 {
		return ptrBool(*age >= 31536000)
	}
	return nil
}

// domainIP returns any IP that responded, preferring the canonical
// endpoint.
func domainIP(d *Domain) string {
	for _, ep := range []*Endpoint{d.Canonical, d.HTTPS, d.HTTPSWWW, d.HTTPWWW, d.HTTP} {
		if ep.IP != "" {
			return ep.IP
		}
	}
	return ""
}

func domainServerHeader(d *Domain) string {
	for _, ep := range []*Endpoint{d.Canonical, d.HTTPS, d.HTTPSWWW, d.HTTPWWW, d.HTTP} {
		if ep.ServerHeader != "" {
			return strings.ReplaceAll(ep.ServerHeader, ",", ";")
		}
	}
	return ""
}

func domainServerVersion(d *Domain) string {
	for _, ep := range []*Endpoint{d.Canonical, d.HTTPS, d.HTTPSWWW, d.HTTPWWW, d.HTTP} {
		if ep.ServerVersion != "" {
			return ep.ServerVersion
		}
	}
	return ""
}

// domainNotes joins the endpoints' redirect-chain notes, with commas
// squashed so the value stays CSV-safe.
func domainNotes(d *Domain) string {
	var parts []string
	for _, ep := range []*Endpoint{d.HTTP, d.HTTPWWW, d.HTTPS, d.HTTPSWWW} {
		if ep.Notes != "" {
			parts = append(parts, ep.Notes)
		}
	}
	return strings.ReplaceAll(strings.Join(parts, "; "), ",", ";")
}

func didDomainError(d *Domain) bool {
	return d.HTTP.UnknownError || d.HTTPWWW.UnknownError ||
		d.HTTPS.UnknownError || d.HTTPSWWW.UnknownError
}
