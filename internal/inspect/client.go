package inspect

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/url"
)

// pingOptions control one probe request.
type pingOptions struct {
	// follow enables redirect following (up to ten hops), recording each
	// hop. Off by default so errors stay scoped to the original endpoint.
	follow bool
	// verify enables certificate validation against the active CA pool.
	verify bool
}

// pingResponse captures everything the pipeline needs from a response. The
// body is never read; facts are copied out and the connection released
// before ping returns.
type pingResponse struct {
	URL     string
	Status  int
	Headers http.Header
	IP      string
	// Hops is populated in follow mode: redirect history in order, the
	// eventual destination last.
	Hops []Hop
}

// ping issues one streaming GET. The DNS lookup is routed through the
// cached resolver, the peer address and served certificate chain are
// captured off the underlying connection, and the response body is closed
// without being read so sockets are released deterministically.
//
// The served chain is returned even when the request itself failed after
// certificates were received, which feeds opportunistic intermediate
// resolution.
func (p *Prober) ping(ctx context.Context, rawURL string, o pingOptions) (*pingResponse, []*x509.Certificate, error) {
	var (
		peerIP    string
		peerChain []*x509.Certificate
	)

	tlsCfg := &tls.Config{
		InsecureSkipVerify: !o.verify,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			chain := make([]*x509.Certificate, 0, len(rawCerts))
			for _, raw := range rawCerts {
				cert, err := x509.ParseCertificate(raw)
				if err != nil {
					return nil
				}
				chain = append(chain, cert)
			}
			peerChain = chain
			return nil
		},
	}
	if o.verify {
		if pool, err := p.roots(); err == nil {
			tlsCfg.RootCAs = pool
		}
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DisableKeepAlives:     true,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   p.opts.timeout(),
		ResponseHeaderTimeout: p.opts.readTimeout(),
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			dialHost := host
			if net.ParseIP(host) == nil {
				ip, err := p.resolver.Lookup(ctx, host)
				if err != nil {
					return nil, err
				}
				dialHost = ip.String()
			}
			dialer := &net.Dialer{Timeout: p.opts.timeout()}
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(dialHost, port))
			if err != nil {
				return nil, err
			}
			if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
				peerIP = tcpAddr.IP.String()
			}
			return conn, nil
		},
	}
	defer transport.CloseIdleConnections()

	var hops []Hop
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !o.follow {
				return http.ErrUseLastResponse
			}
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			if prev := req.Response; prev != nil {
				hops = append(hops, Hop{
					URL:     prev.Request.URL.String(),
					Status:  prev.StatusCode,
					Headers: prev.Header,
				})
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", p.opts.userAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, peerChain, err
	}
	defer resp.Body.Close()

	result := &pingResponse{
		URL:     resp.Request.URL.String(),
		Status:  resp.StatusCode,
		Headers: resp.Header,
		IP:      peerIP,
	}
	if o.follow {
		result.Hops = append(hops, Hop{
			URL:     result.URL,
			Status:  result.Status,
			Headers: result.Headers,
		})
	}
	return result, peerChain, nil
}

// absoluteLocation resolves a Location header value against the requesting
// URL, handling both absolute and relative redirect targets.
func absoluteLocation(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// hostnameOf extracts the lowercase hostname from a URL, best-effort.
func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
