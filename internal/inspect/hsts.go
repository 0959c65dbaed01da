package inspect

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	hstsCommaSplit = regexp.MustCompile(`,\s?`)
	hstsSemiSplit  = regexp.MustCompile(`;\s?`)
	hstsQuotes     = regexp.MustCompile(`['"]`)
)

// hstsCheck extracts and parses any Strict-Transport-Security header for
// the endpoint. Header precedence: the endpoint's own response, then the
// eventual redirect destination (when it still contains the original URL),
// then any matching hop in the redirect history, then the ADFS probe.
//
// An endpoint with a bad hostname never qualifies: a header cannot
// establish trust on a certificate that does not match.
func hstsCheck(ep *Endpoint) {
	if !ep.Live || len(ep.Headers) == 0 {
		return
	}

	header := ep.Headers.Get("Strict-Transport-Security")

	if header == "" {
		if ev := ep.Eventual(); ev != nil && strings.Contains(ev.URL, ep.URL) {
			header = ev.Headers.Get("Strict-Transport-Security")
		}
	}
	if header == "" {
		for _, hop := range ep.History() {
			if strings.Contains(hop.URL, ep.URL) {
				header = hop.Headers.Get("Strict-Transport-Security")
				if header != "" {
					break
				}
			}
		}
	}
	if header == "" && ep.adfsHop != nil {
		header = ep.adfsHop.Headers.Get("Strict-Transport-Security")
	}

	if header == "" {
		ep.HSTS = ptrBool(false)
		return
	}

	ep.HSTSHeader = header

	if boolVal(ep.HTTPSBadHostname) {
		ep.HSTS = ptrBool(false)
		return
	}

	ep.HSTS = ptrBool(true)

	// Duplicate headers arrive comma-joined; only the first one counts.
	first := hstsCommaSplit.Split(header, 2)[0]
	first = hstsQuotes.ReplaceAllString(first, "")
	lower := strings.ToLower(header)

	if strings.Contains(lower, "max-age") {
		for _, directive := range hstsSemiSplit.Split(first, -1) {
			if rest, ok := cutPrefixFold(directive, "max-age="); ok {
				if age, err := strconv.Atoi(rest); err == nil {
					ep.HSTSMaxAge = ptrInt(age)
				}
				break
			}
		}
	}

	if ep.HSTSMaxAge == nil || *ep.HSTSMaxAge <= 0 {
		ep.HSTS = ptrBool(false)
		return
	}

	if strings.Contains(lower, "includesubdomains") {
		ep.HSTSAllSubdomains = true
	}
	if strings.Contains(lower, "preload") {
		ep.HSTSPreload = true
	}
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}
