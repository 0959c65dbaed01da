package scanner

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/smallstep/pkcs7"
	"go.uber.org/zap"

	"github.com/khanhnv2901/httpswatch/internal/truststore"
)

// certFileExtensions are the certificate-file suffixes recognized in
// authority-information-access URLs.
var certFileExtensions = map[string]bool{
	"crt": true,
	"cer": true,
	"pem": true,
	"p7b": true,
	"p7c": true,
}

// IntermediateResolver repairs incomplete certificate chains: it extracts
// issuer-access URLs from a served chain, downloads the referenced
// intermediates, validates them against existing trust anchors, and
// persists validated certificates into the augmented trust stores.
//
// Every step is best-effort. A download, decode, or parse failure for an
// individual candidate is logged and skipped, never fatal.
type IntermediateResolver struct {
	Client *http.Client
	Logger *zap.SugaredLogger
	// All is the all-purpose store the evaluator scans with; PT is the
	// supplemental public-trust store and may be nil.
	All *truststore.Store
	PT  *truststore.Store
}

func (r *IntermediateResolver) log() *zap.SugaredLogger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop().Sugar()
}

func (r *IntermediateResolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	// Certificate files are routinely served from hosts with their own
	// chain problems, so validation stays off for these downloads.
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// Resolve scans the served chain for downloadable intermediates and adds
// any that validate against an existing store. resolved reports whether the
// chain should now build; added reports whether any store gained a
// certificate (the two are equivalent today, kept separate for callers that
// care about persistence).
func (r *IntermediateResolver) Resolve(ctx context.Context, endpointURL string, chain []*x509.Certificate) (resolved, added bool) {
	urls := issuerURLs(chain)
	if len(urls) == 0 {
		return false, false
	}
	r.log().Debugf("%s: found %d issuer access URL(s) in served chain", endpointURL, len(urls))

	stores := []*truststore.Store{r.All}
	if r.PT != nil && r.PT != r.All {
		stores = append(stores, r.PT)
	}

	for _, certURL := range urls {
		certs, err := r.download(ctx, certURL)
		if err != nil {
			r.log().Debugf("%s: skipping intermediate candidate %s: %v", endpointURL, certURL, err)
			continue
		}
		for _, store := range stores {
			var queue []*x509.Certificate
			for _, cert := range certs {
				if store.Contains(cert) {
					r.log().Debugf("%s: certificate already trusted: %s", endpointURL, cert.Subject)
					continue
				}
				if !r.validates(cert, store) {
					r.log().Debugf("%s: candidate did not verify against %s store: %s", endpointURL, store.Label(), cert.Subject)
					continue
				}
				queue = append(queue, cert)
			}
			if len(queue) == 0 {
				continue
			}
			if err := store.Append(queue); err != nil {
				r.log().Warnf("%s: persisting intermediates to %s store: %v", endpointURL, store.Label(), err)
				continue
			}
			for _, cert := range queue {
				r.log().Debugf("%s: added intermediate to %s store: %s", endpointURL, store.Label(), cert.Subject)
			}
			added = true
		}
	}
	return added, added
}

// validates checks whether cert alone chains to the store's current anchors.
func (r *IntermediateResolver) validates(cert *x509.Certificate, store *truststore.Store) bool {
	pool, err := store.Pool()
	if err != nil {
		return false
	}
	_, err = cert.Verify(x509.VerifyOptions{Roots: pool})
	return err == nil
}

// issuerURLs collects, deduplicated, every authority-information-access
// URL across the chain that points at a recognized certificate file.
func issuerURLs(chain []*x509.Certificate) []string {
	var urls []string
	seen := map[string]bool{}
	for _, cert := range chain {
		for _, u := range cert.IssuingCertificateURL {
			if !strings.HasPrefix(u, "http") {
				continue
			}
			if !certFileExtensions[urlExtension(u)] {
				continue
			}
			if seen[u] {
				continue
			}
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

func urlExtension(u string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(u), "."))
}

// download fetches one certificate file and decodes it according to its
// extension: raw DER, a PEM bundle, or a PKCS7 structure (PEM-wrapped for
// .p7b, DER for .p7c) from which all embedded certificates are extracted.
func (r *IntermediateResolver) download(ctx context.Context, certURL string) ([]*x509.Certificate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch urlExtension(certURL) {
	case "p7b":
		return decodePKCS7(raw, true)
	case "p7c":
		return decodePKCS7(raw, false)
	case "pem":
		return decodePEM(raw)
	default: // crt, cer: DER in the wild, occasionally PEM
		if cert, err := x509.ParseCertificate(raw); err == nil {
			return []*x509.Certificate{cert}, nil
		}
		return decodePEM(raw)
	}
}

func decodePEM(raw []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for len(raw) > 0 {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates in PEM data")
	}
	return certs, nil
}

func decodePKCS7(raw []byte, pemWrapped bool) ([]*x509.Certificate, error) {
	der := raw
	if pemWrapped {
		if block, _ := pem.Decode(raw); block != nil {
			der = block.Bytes
		}
	}
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, err
	}
	return p7.Certificates, nil
}
