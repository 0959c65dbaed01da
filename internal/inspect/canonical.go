package inspect

// canonicalEndpoint picks, from the four endpoints' observed behavior, the
// single endpoint that best represents the domain's primary web presence.
// The decision runs along two independent axes, www-ness and https-ness.
//
// A domain is canonically at www if at least one www endpoint responds,
// both root endpoints are unused (down, redirecting, or non-2xx), and
// either both roots are down or some root redirects immediately to its
// www variant. This affirms chains like http:// -> https:// -> https://www
// without affirming a live root that merely coexists with a www site.
//
// A domain is canonically at https if at least one https endpoint is live
// with a matching hostname, both http endpoints are unused, and either
// both http endpoints are down or one of them upgrades immediately to an
// internal https endpoint. A valid hostname with chain problems still
// qualifies.
func canonicalEndpoint(http, httpwww, https, httpswww *Endpoint) *Endpoint {
	rootUnused := func(ep *Endpoint) bool {
		// Bad hostname is harmless for http endpoints; it is never set.
		return ep.Redirect || !ep.Live || boolVal(ep.HTTPSBadHostname) || ep.Status/100 != 2
	}
	rootDown := func(ep *Endpoint) bool {
		return !ep.Live || boolVal(ep.HTTPSBadHostname) ||
			(ep.Status/100 != 2 && ep.Status/100 != 3)
	}
	httpsUsed := func(ep *Endpoint) bool {
		return ep.Live && !boolVal(ep.HTTPSBadHostname)
	}
	httpUnused := func(ep *Endpoint) bool {
		return ep.Redirect || !ep.Live || ep.Status/100 != 2
	}
	httpUpgrades := func(ep *Endpoint) bool {
		return ep.RedirectImmediatelyToHTTPS && !ep.RedirectImmediatelyToExternal
	}

	isWWW := (httpswww.Live || httpwww.Live) &&
		rootUnused(https) && rootUnused(http) &&
		(rootDown(https) && rootDown(http) ||
			https.RedirectImmediatelyToWWW || http.RedirectImmediatelyToWWW)

	isHTTPS := (httpsUsed(https) || httpsUsed(httpswww)) &&
		httpUnused(http) && httpUnused(httpwww) &&
		(!http.Live && !httpwww.Live ||
			httpUpgrades(http) || httpUpgrades(httpwww))

	switch {
	case isWWW && isHTTPS:
		return httpswww
	case isWWW:
		return httpwww
	case isHTTPS:
		return https
	default:
		return http
	}
}
