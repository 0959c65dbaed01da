// Package refdata holds the third-party reference lists consulted during
// domain judgments: the Chromium HSTS preload list, the hstspreload.org
// pending-submission list, and a public-suffix rule set used to compute a
// hostname's base domain.
//
// A Store is read-only after initialization and safe for concurrent reads.
// Consulting a list that was never loaded is a programming error, not a
// runtime condition, and fails with ErrNotInitialized.
package refdata

import (
	"errors"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrNotInitialized is returned when a reference list is consulted before
// it has been loaded into the Store.
var ErrNotInitialized = errors.New("refdata: reference list not initialized")

// SuffixResolver computes the registrable "base domain" of a hostname
// (e.g. "x.y.agency.gov" -> "agency.gov").
type SuffixResolver interface {
	BaseDomain(hostname string) (string, error)
}

// Store aggregates the reference lists for one process. Populate it once
// before inspections begin; all reads afterwards are lock-free.
type Store struct {
	preload  map[string]struct{}
	pending  map[string]struct{}
	suffixes SuffixResolver
}

func New() *Store {
	return &Store{}
}

// SetPreloadList installs the set of fully preloaded hostnames.
func (s *Store) SetPreloadList(domains []string) {
	s.preload = toSet(domains)
}

// SetPendingList installs the set of hostnames pending preload inclusion.
func (s *Store) SetPendingList(domains []string) {
	s.pending = toSet(domains)
}

// SetSuffixResolver installs the public-suffix rule set.
func (s *Store) SetSuffixResolver(r SuffixResolver) {
	s.suffixes = r
}

// Ready reports whether all three reference lists have been loaded.
func (s *Store) Ready() bool {
	return s.preload != nil && s.pending != nil && s.suffixes != nil
}

// Preloaded reports whether hostname is on the HSTS preload list.
func (s *Store) Preloaded(hostname string) (bool, error) {
	if s.preload == nil {
		return false, ErrNotInitialized
	}
	_, ok := s.preload[strings.ToLower(hostname)]
	return ok, nil
}

// PreloadPending reports whether hostname has been submitted for preloading
// but not yet shipped.
func (s *Store) PreloadPending(hostname string) (bool, error) {
	if s.pending == nil {
		return false, ErrNotInitialized
	}
	_, ok := s.pending[strings.ToLower(hostname)]
	return ok, nil
}

// BaseDomain returns the registrable domain of hostname per the loaded
// public-suffix rules.
func (s *Store) BaseDomain(hostname string) (string, error) {
	if s.suffixes == nil {
		return "", ErrNotInitialized
	}
	return s.suffixes.BaseDomain(hostname)
}

func toSet(domains []string) map[string]struct{} {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return set
}

// PublicSuffixes resolves base domains using the compiled-in copy of the
// Mozilla public suffix list.
type PublicSuffixes struct{}

func (PublicSuffixes) BaseDomain(hostname string) (string, error) {
	hostname = strings.TrimSuffix(strings.ToLower(hostname), ".")
	base, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		// The hostname is itself a public suffix (or malformed); the
		// most useful base domain is the hostname unchanged.
		return hostname, nil
	}
	return base, nil
}
