package inspect

import (
	"go.uber.org/zap"

	"github.com/khanhnv2901/httpswatch/internal/refdata"
)

// Result is the flat per-domain output record. Pointer fields distinguish
// "unknown because the relevant probe never ran" (null) from a definite
// false; everything else collapses unknown to false.
type Result struct {
	Domain       string  `json:"domain"`
	BaseDomain   string  `json:"base_domain"`
	CanonicalURL string  `json:"canonical_url"`
	Live         bool    `json:"live"`
	Redirect     bool    `json:"redirect"`
	RedirectTo   *string `json:"redirect_to"`

	HTTPSLive               bool `json:"https_live"`
	HTTPSFullConnection     bool `json:"https_full_connection"`
	HTTPSClientAuthRequired bool `json:"https_client_auth_required"`

	ValidHTTPS           *bool `json:"valid_https"`
	HTTPSPubliclyTrusted *bool `json:"https_publicly_trusted"`
	HTTPSCustomTrusted   *bool `json:"https_custom_truststore_trusted"`
	DefaultsToHTTPS      bool  `json:"defaults_to_https"`
	DowngradesHTTPS      bool  `json:"downgrades_https"`
	StrictlyForcesHTTPS  bool  `json:"strictly_forces_https"`

	HTTPSBadChain                    *bool `json:"https_bad_chain"`
	HTTPSBadHostname                 *bool `json:"https_bad_hostname"`
	HTTPSExpiredCert                 *bool `json:"https_expired_cert"`
	HTTPSSelfSignedCert              *bool `json:"https_self_signed_cert"`
	HTTPSCertChainLength             *int  `json:"https_cert_chain_length"`
	HTTPSProbablyMissingIntermediate *bool `json:"https_probably_missing_intermediate_cert"`

	HSTS                *bool   `json:"hsts"`
	HSTSHeader          *string `json:"hsts_header"`
	HSTSMaxAge          *int    `json:"hsts_max_age"`
	HSTSEntireDomain    *bool   `json:"hsts_entire_domain"`
	HSTSPreloadReady    *bool   `json:"hsts_preload_ready"`
	HSTSPreloadPending  bool    `json:"hsts_preload_pending"`
	HSTSPreloaded       bool    `json:"hsts_preloaded"`
	BaseDomainPreloaded bool    `json:"base_domain_hsts_preloaded"`

	DomainSupportsHTTPS  bool  `json:"domain_supports_https"`
	DomainEnforcesHTTPS  bool  `json:"domain_enforces_https"`
	DomainUsesStrongHSTS *bool `json:"domain_uses_strong_hsts"`

	IP            *string `json:"ip"`
	ServerHeader  *string `json:"server_header"`
	ServerVersion *string `json:"server_version"`
	Notes         string  `json:"notes"`
	UnknownError  bool    `json:"unknown_error"`

	// Endpoints exposes all four endpoints' raw facts for consumers that
	// want more than the flat judgments.
	Endpoints *Domain `json:"endpoints"`
}

// resultFor selects the canonical endpoint and derives every domain-level
// judgment. Preload and base-domain lookups propagate an error when the
// reference lists were never initialized.
func resultFor(d *Domain, ref *refdata.Store, log *zap.SugaredLogger) (*Result, error) {
	d.Canonical = canonicalEndpoint(d.HTTP, d.HTTPWWW, d.HTTPS, d.HTTPSWWW)

	base, err := ref.BaseDomain(d.Domain)
	if err != nil {
		return nil, err
	}
	preloadPending, err := isHSTSPreloadPending(d, ref)
	if err != nil {
		return nil, err
	}
	preloaded, err := isHSTSPreloaded(d, ref)
	if err != nil {
		return nil, err
	}
	basePreloaded, err := isParentHSTSPreloaded(d, ref)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Domain:       d.Domain,
		BaseDomain:   base,
		CanonicalURL: d.Canonical.URL,
		Live:         isLive(d),
		Redirect:     isRedirectDomain(d),
		RedirectTo:   ptrString(redirectsTo(d)),

		HTTPSLive:               isHTTPSLive(d),
		HTTPSFullConnection:     isFullConnection(d),
		HTTPSClientAuthRequired: isClientAuthRequired(d),

		ValidHTTPS:           isValidHTTPS(d),
		HTTPSPubliclyTrusted: isPubliclyTrusted(d),
		HTTPSCustomTrusted:   isCustomTrusted(d),
		DefaultsToHTTPS:      isDefaultsToHTTPS(d),
		DowngradesHTTPS:      isDowngradesHTTPS(d),
		StrictlyForcesHTTPS:  isStrictlyForcesHTTPS(d),

		HTTPSBadChain:                    isBadChain(d),
		HTTPSBadHostname:                 isBadHostname(d),
		HTTPSExpiredCert:                 isExpiredCert(d),
		HTTPSSelfSignedCert:              isSelfSignedCert(d),
		HTTPSCertChainLength:             certChainLength(d),
		HTTPSProbablyMissingIntermediate: isMissingIntermediateCert(d),

		HSTS:                isHSTS(d, log),
		HSTSHeader:          ptrString(hstsHeaderFor(d)),
		HSTSMaxAge:          hstsMaxAge(d),
		HSTSEntireDomain:    ptrBool(isHSTSEntireDomain(d)),
		HSTSPreloadReady:    ptrBool(isHSTSPreloadReady(d)),
		HSTSPreloadPending:  preloadPending,
		HSTSPreloaded:       preloaded,
		BaseDomainPreloaded: basePreloaded,

		DomainSupportsHTTPS:  isDomainSupportsHTTPS(d),
		DomainEnforcesHTTPS:  isDomainEnforcesHTTPS(d),
		DomainUsesStrongHSTS: isDomainStrongHSTS(d, log),

		IP:            ptrString(domainIP(d)),
		ServerHeader:  ptrString(domainServerHeader(d)),
		ServerVersion: ptrString(domainServerVersion(d)),
		Notes:         domainNotes(d),
		UnknownError:  didDomainError(d),

		Endpoints: d,
	}

	// HSTS judgments only mean something once a full TLS connection was
	// made and a header verdict exists; otherwise they stay unknown.
	if !r.HTTPSFullConnection || r.HSTS == nil {
		r.HSTS = nil
		r.HSTSEntireDomain = nil
		r.HSTSPreloadReady = nil
		r.DomainUsesStrongHSTS = nil
	} else if r.DomainUsesStrongHSTS == nil {
		// A definite HSTS verdict with no strong-HSTS determination (no
		// usable max-age) is a definite no, not an unknown.
		r.DomainUsesStrongHSTS = ptrBool(false)
	}

	return r, nil
}

func ptrString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
