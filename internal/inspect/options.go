package inspect

import "time"

// Defaults applied when an Options field is zero.
const (
	DefaultTimeout   = 5 * time.Second
	DefaultUserAgent = "httpswatch, https scanning"
)

// Options is the immutable configuration for one Inspector. Build it once
// per run; every component reads from it by reference.
type Options struct {
	// Timeout is the connect timeout. The read timeout is five times
	// longer, for slow servers.
	Timeout   time.Duration
	UserAgent string

	// ScanADFS enables probing the /adfs/ls/ sub-path of HTTPS endpoints
	// that did not present an HSTS header directly.
	ScanADFS bool

	// CAFile is an optional custom CA bundle; configuring it makes the
	// custom trust store the active one for failure classification.
	CAFile string
	// PTIntCAFile is an optional supplemental public-trust bundle with
	// manually collected intermediates, used to re-check public trust
	// when only the custom store validates a short chain.
	PTIntCAFile string

	// DNS lists nameserver addresses (host or host:port) for the cached
	// resolver. Empty means the system resolver.
	DNS []string

	// CacheDir is where augmented trust-store bundles and other
	// third-party material are cached.
	CacheDir string

	// SaveCertNames appends the CN/SAN names of served leaf certificates
	// to CertNamesFile, as an audit side channel.
	SaveCertNames bool
	CertNamesFile string
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

func (o Options) readTimeout() time.Duration {
	return 5 * o.timeout()
}

func (o Options) userAgent() string {
	if o.UserAgent != "" {
		return o.UserAgent
	}
	return DefaultUserAgent
}
