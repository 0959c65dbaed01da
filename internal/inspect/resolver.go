package inspect

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// LookupFunc performs one uncached hostname lookup. Swappable for tests.
type LookupFunc func(ctx context.Context, host string) (net.IP, error)

// Resolver resolves hostnames through a configurable nameserver set and
// caches every outcome for the lifetime of the process: a hostname that
// failed once keeps failing from cache without re-querying, which keeps the
// four-endpoint probe of a dead domain cheap. Safe for concurrent use.
type Resolver struct {
	lookup  LookupFunc
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]dnsAnswer
}

type dnsAnswer struct {
	ip  net.IP
	err error
}

// NewResolver builds a cached resolver. With nameservers configured,
// queries are dialed to the first reachable server in the list; otherwise
// the system resolver is used.
func NewResolver(nameservers []string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Resolver{
		timeout: timeout,
		cache:   make(map[string]dnsAnswer),
	}

	netResolver := &net.Resolver{PreferGo: true}
	if len(nameservers) > 0 {
		servers := normalizeNameservers(nameservers)
		dialer := &net.Dialer{Timeout: timeout}
		netResolver.Dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
			var lastErr error
			for _, server := range servers {
				conn, err := dialer.DialContext(ctx, network, server)
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, lastErr
		}
	}

	r.lookup = func(ctx context.Context, host string) (net.IP, error) {
		lookupCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ips, err := netResolver.LookupIP(lookupCtx, "ip4", host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, &net.DNSError{Err: "no addresses", Name: host}
		}
		return ips[0], nil
	}
	return r
}

// NewResolverFunc wraps an arbitrary lookup function with the same caching
// behavior. Used by tests and by callers that already own a resolver.
func NewResolverFunc(lookup LookupFunc) *Resolver {
	return &Resolver{
		lookup:  lookup,
		timeout: DefaultTimeout,
		cache:   make(map[string]dnsAnswer),
	}
}

// Lookup resolves host, consulting the cache first. Errors are cached just
// like answers and re-returned on subsequent calls.
func (r *Resolver) Lookup(ctx context.Context, host string) (net.IP, error) {
	host = strings.ToLower(host)

	r.mu.Lock()
	if answer, ok := r.cache[host]; ok {
		r.mu.Unlock()
		return answer.ip, answer.err
	}
	r.mu.Unlock()

	ip, err := r.lookup(ctx, host)

	r.mu.Lock()
	r.cache[host] = dnsAnswer{ip: ip, err: err}
	r.mu.Unlock()

	return ip, err
}

func normalizeNameservers(nameservers []string) []string {
	servers := make([]string, 0, len(nameservers))
	for _, ns := range nameservers {
		ns = strings.TrimSpace(ns)
		if ns == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(ns); err != nil {
			ns = fmt.Sprintf("%s:%d", ns, 53)
		}
		servers = append(servers, ns)
	}
	return servers
}
