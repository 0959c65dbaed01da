package inspect

import (
	"fmt"
	"strings"
)

// checkRedirectChain builds the ordered hop trace for an endpoint and
// detects downgrades: an HTTPS hop anywhere in the chain followed by a
// plain-HTTP hop later.
func checkRedirectChain(ep *Endpoint) {
	hops := ep.ultimateHops
	if len(hops) == 0 {
		hops = []Hop{{URL: ep.URL, Status: ep.Status, Headers: ep.Headers}}
	}
	if ep.adfsHop != nil {
		hops = append(hops[:len(hops):len(hops)], *ep.adfsHop)
	}

	sawHTTPS := strings.HasPrefix(ep.URL, "https://")
	downgrade := false
	chain := make([]string, 0, len(hops))
	for _, hop := range hops {
		proto := "HTTP"
		hsts := ""
		tag := ""
		if strings.Contains(hop.URL, "https://") {
			sawHTTPS = true
			proto = "HTTPS"
			if strings.Contains(hop.URL, "/adfs/") {
				proto = "ADFS_HTTPS"
			}
			if hop.Headers.Get("Strict-Transport-Security") != "" {
				hsts = "+HSTS"
			}
		}
		if sawHTTPS && strings.Contains(hop.URL, "http://") {
			downgrade = true
			tag = "-Downgrade"
		}
		chain = append(chain, fmt.Sprintf("%s (%s%s%s)", hop.URL, proto, hsts, tag))
	}

	ep.RedirectChain = chain
	ep.ChainDowngrade = downgrade
	ep.Notes = strings.Join(chain, ", ")
}
