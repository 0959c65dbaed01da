// Package inspect probes a registered domain's four endpoint variants
// (http://, http://www, https://, https://www), evaluates TLS and
// certificate trust, traces redirect chains, parses HSTS headers, and
// combines the per-endpoint facts into domain-level compliance judgments.
package inspect

import "net/http"

// Protocols and host variants an Endpoint can take.
const (
	ProtocolHTTP  = "http"
	ProtocolHTTPS = "https"

	HostRoot = "root"
	HostWWW  = "www"
)

// Hop is one response in a followed redirect chain: the URL arrived at,
// the status, and the headers served there.
type Hop struct {
	URL     string      `json:"url"`
	Status  int         `json:"status"`
	Headers http.Header `json:"-"`
}

// Endpoint is one concrete URL (protocol x host-variant) under inspection.
// It is created empty, mutated by the pipeline stages in a fixed order
// (prober, TLS evaluator, redirect tracer, HSTS parser), and read-only
// afterward.
//
// Tri-state facts are pointers: nil means "never determined", which the
// result contract keeps distinct from a definite false. Endpoints with
// protocol "http" never populate the HTTPS* fields.
type Endpoint struct {
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	URL      string `json:"url"`

	Live         bool        `json:"live"`
	Status       int         `json:"status,omitempty"`
	Headers      http.Header `json:"headers,omitempty"`
	IP           string      `json:"ip,omitempty"`
	ServerHeader string      `json:"server_header,omitempty"`
	// ServerVersion is derived from the Server header when a known
	// product/version form is recognized.
	ServerVersion string `json:"server_version,omitempty"`

	Redirect                       bool   `json:"redirect"`
	RedirectImmediatelyTo          string `json:"redirect_immediately_to,omitempty"`
	RedirectImmediatelyToHTTPS     bool   `json:"redirect_immediately_to_https"`
	RedirectImmediatelyToHTTP      bool   `json:"redirect_immediately_to_http"`
	RedirectImmediatelyToExternal  bool   `json:"redirect_immediately_to_external"`
	RedirectImmediatelyToSubdomain bool   `json:"redirect_immediately_to_subdomain"`
	RedirectImmediatelyToWWW       bool   `json:"redirect_immediately_to_www"`
	RedirectEventuallyTo           string `json:"redirect_eventually_to,omitempty"`
	RedirectEventuallyToHTTPS      bool   `json:"redirect_eventually_to_https"`
	RedirectEventuallyToHTTP       bool   `json:"redirect_eventually_to_http"`
	RedirectEventuallyToExternal   bool   `json:"redirect_eventually_to_external"`
	RedirectEventuallyToSubdomain  bool   `json:"redirect_eventually_to_subdomain"`

	// RedirectChain is the human-readable ordered trace of the followed
	// chain; ChainDowngrade is set when an HTTPS hop is followed by a
	// plain-HTTP hop anywhere in it.
	RedirectChain  []string `json:"redirect_chain,omitempty"`
	ChainDowngrade bool     `json:"chain_downgrade"`

	HTTPSFullConnection          *bool `json:"https_full_connection,omitempty"`
	HTTPSValid                   *bool `json:"https_valid,omitempty"`
	HTTPSClientAuthRequired      bool  `json:"https_client_auth_required"`
	HTTPSPublicTrusted           *bool `json:"https_public_trusted,omitempty"`
	HTTPSCustomTrusted           *bool `json:"https_custom_trusted,omitempty"`
	HTTPSBadChain                *bool `json:"https_bad_chain,omitempty"`
	HTTPSBadHostname             *bool `json:"https_bad_hostname,omitempty"`
	HTTPSExpiredCert             *bool `json:"https_expired_cert,omitempty"`
	HTTPSSelfSignedCert          *bool `json:"https_self_signed_cert,omitempty"`
	HTTPSCertChainLen            *int  `json:"https_cert_chain_len,omitempty"`
	HTTPSMissingIntermediateCert *bool `json:"https_missing_intermediate_cert,omitempty"`

	HSTS              *bool  `json:"hsts,omitempty"`
	HSTSHeader        string `json:"hsts_header,omitempty"`
	HSTSMaxAge        *int   `json:"hsts_max_age,omitempty"`
	HSTSAllSubdomains bool   `json:"hsts_all_subdomains"`
	HSTSPreload       bool   `json:"hsts_preload"`

	UnknownError bool   `json:"unknown_error"`
	Notes        string `json:"notes,omitempty"`

	// ultimateHops is the followed redirect chain, history first and the
	// eventual destination last. adfsHop is the identity-federation probe
	// response, when one was recorded. Both feed the tracer and the HSTS
	// parser but are not part of the serialized endpoint facts.
	ultimateHops []Hop
	adfsHop      *Hop
}

// NewEndpoint builds the empty endpoint for one protocol/host variant of
// base domain hostname.
func NewEndpoint(protocol, host, hostname string) *Endpoint {
	target := hostname
	if host == HostWWW {
		target = "www." + hostname
	}
	return &Endpoint{
		Protocol: protocol,
		Host:     host,
		URL:      protocol + "://" + target,
	}
}

// Eventual returns the final hop of the followed redirect chain, if the
// chain was followed.
func (e *Endpoint) Eventual() *Hop {
	if len(e.ultimateHops) == 0 {
		return nil
	}
	return &e.ultimateHops[len(e.ultimateHops)-1]
}

// History returns the intermediate hops of the followed chain (everything
// before the eventual destination).
func (e *Endpoint) History() []Hop {
	if len(e.ultimateHops) < 2 {
		return nil
	}
	return e.ultimateHops[:len(e.ultimateHops)-1]
}

// Domain owns the four endpoints of one hostname under inspection, plus
// the canonical endpoint selected once probing is complete. A Domain is
// constructed per inspection call and discarded with the result.
type Domain struct {
	Domain   string    `json:"domain"`
	HTTP     *Endpoint `json:"http"`
	HTTPWWW  *Endpoint `json:"httpwww"`
	HTTPS    *Endpoint `json:"https"`
	HTTPSWWW *Endpoint `json:"httpswww"`

	// Canonical points at one of the four endpoints; selected post-hoc.
	Canonical *Endpoint `json:"-"`

	// Optional per-call reference-list snapshots, consulted before the
	// process-wide store. Lets callers inject subsets for isolation.
	PreloadList    map[string]struct{} `json:"-"`
	PreloadPending map[string]struct{} `json:"-"`
}

// NewDomain builds a Domain with its four empty endpoints.
func NewDomain(hostname string) *Domain {
	return &Domain{
		Domain:   hostname,
		HTTP:     NewEndpoint(ProtocolHTTP, HostRoot, hostname),
		HTTPWWW:  NewEndpoint(ProtocolHTTP, HostWWW, hostname),
		HTTPS:    NewEndpoint(ProtocolHTTPS, HostRoot, hostname),
		HTTPSWWW: NewEndpoint(ProtocolHTTPS, HostWWW, hostname),
	}
}

// canonicalHTTPS returns the HTTPS endpoint matching the canonical host
// variant. Most certificate judgments evaluate this endpoint.
func (d *Domain) canonicalHTTPS() *Endpoint {
	if d.Canonical != nil && d.Canonical.Host == HostWWW {
		return d.HTTPSWWW
	}
	return d.HTTPS
}

func ptrBool(v bool) *bool { return &v }
func ptrInt(v int) *int    { return &v }

// boolVal reads a tri-state fact, treating "never determined" as false.
func boolVal(p *bool) bool { return p != nil && *p }
