// Package truststore manages the certificate trust anchors used for chain
// validation: a base bundle (a PEM file, or the system roots when no file is
// configured) plus any intermediate certificates validated and persisted
// during a run. Appends are serialized per store so concurrent inspections
// cannot interleave writes into the PEM cache file.
package truststore

import (
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Labels for the two kinds of store the evaluator distinguishes.
const (
	LabelPublic = "public"
	LabelCustom = "custom"
)

// Store is a named, lazily augmented set of trust anchors backed by an
// optional PEM bundle file. The zero value is not usable; construct with
// Open.
type Store struct {
	mu        sync.Mutex
	label     string
	basePath  string
	cachePath string
	useSystem bool
	augmented bool
	certs     []*x509.Certificate
}

// Open loads a trust store. When bundlePath is empty the store is anchored
// on the system roots and label defaults to "public"; otherwise the PEM file
// at bundlePath is parsed and the label is "custom". cacheDir, if non-empty,
// is where augmented copies of the bundle are written.
func Open(bundlePath, cacheDir string) (*Store, error) {
	s := &Store{
		basePath: bundlePath,
		label:    LabelPublic,
	}
	if cacheDir != "" {
		s.cachePath = filepath.Join(cacheDir, cacheFileName(bundlePath))
	}

	if bundlePath == "" {
		s.useSystem = true
		return s, nil
	}

	s.label = LabelCustom
	certs, err := readBundle(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("truststore: read bundle %s: %w", bundlePath, err)
	}
	s.certs = certs
	return s, nil
}

// Label returns "public" or "custom". A public store that has been augmented
// with downloaded intermediates reports "custom", since validation against
// it no longer reflects the stock bundle.
func (s *Store) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.augmented {
		return LabelCustom
	}
	return s.label
}

// Augmented reports whether intermediates have been added during this run.
func (s *Store) Augmented() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.augmented
}

// Path returns the file backing the store: the augmented cache file once
// intermediates have been persisted, otherwise the base bundle path (empty
// for a system-roots store).
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.augmented && s.cachePath != "" {
		return s.cachePath
	}
	return s.basePath
}

// Pool builds a certificate pool of all current anchors. For system-backed
// stores the system roots are included.
func (s *Store) Pool() (*x509.CertPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pool *x509.CertPool
	if s.useSystem {
		system, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("truststore: system roots: %w", err)
		}
		pool = system
	} else {
		pool = x509.NewCertPool()
	}
	for _, cert := range s.certs {
		pool.AddCert(cert)
	}
	return pool, nil
}

// Contains reports whether an anchor byte-identical to cert (same subject
// and SHA-256 digest) is already in the store.
func (s *Store) Contains(cert *x509.Certificate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	digest := sha256.Sum256(cert.Raw)
	for _, existing := range s.certs {
		if !samePKIXName(existing.Subject, cert.Subject) {
			continue
		}
		if sha256.Sum256(existing.Raw) == digest {
			return true
		}
	}
	return false
}

// Append adds validated certificates to the store and persists them,
// PEM-encoded, to the cache file. The base bundle is copied into the cache
// location first if no writable copy exists yet. The whole sequence runs
// under the store lock so concurrent appends cannot corrupt the bundle.
func (s *Store) Append(certs []*x509.Certificate) error {
	if len(certs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachePath != "" {
		if err := s.ensureWritableCopy(); err != nil {
			return err
		}
		f, err := os.OpenFile(s.cachePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("truststore: open cache file: %w", err)
		}
		defer f.Close()
		for _, cert := range certs {
			block := &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}
			if err := pem.Encode(f, block); err != nil {
				return fmt.Errorf("truststore: write cache file: %w", err)
			}
		}
	}

	s.certs = append(s.certs, certs...)
	s.augmented = true
	return nil
}

func (s *Store) ensureWritableCopy() error {
	if _, err := os.Stat(s.cachePath); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cachePath), 0o755); err != nil {
		return fmt.Errorf("truststore: create cache dir: %w", err)
	}
	if s.basePath == "" {
		// System-backed store: the cache file holds only the additions.
		return nil
	}
	src, err := os.Open(s.basePath)
	if err != nil {
		return fmt.Errorf("truststore: copy base bundle: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(s.cachePath)
	if err != nil {
		return fmt.Errorf("truststore: copy base bundle: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("truststore: copy base bundle: %w", err)
	}
	return nil
}

// cacheFileName derives a per-store cache filename from the base bundle,
// so two stores sharing one cache directory never interleave appends.
func cacheFileName(bundlePath string) string {
	if bundlePath == "" {
		return "httpswatch-ca-bundle.pem"
	}
	return "httpswatch-" + filepath.Base(bundlePath)
}

func readBundle(path string) ([]*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
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
			continue
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func samePKIXName(a, b pkix.Name) bool {
	return a.String() == b.String()
}
