package inspect

import (
	"crypto/x509"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// CertNameSink is an optional side-channel audit log of every name (CN and
// subjectAltName) seen on served leaf certificates, written as CSV. It is
// an enrichment: every failure is logged and swallowed, and a nil sink is
// a no-op.
type CertNameSink struct {
	mu   sync.Mutex
	file *os.File
	log  *zap.SugaredLogger
}

// NewCertNameSink creates (truncating) the CSV file and writes the header.
func NewCertNameSink(path string, log *zap.SugaredLogger) (*CertNameSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating certificate names file: %w", err)
	}
	if _, err := f.WriteString("URL,Name\r\n"); err != nil {
		f.Close()
		return nil, err
	}
	return &CertNameSink{file: f, log: log}, nil
}

// Record appends one row per distinct name on the leaf certificate.
func (s *CertNameSink) Record(url string, chain []*x509.Certificate) {
	if s == nil || len(chain) == 0 {
		return
	}
	leaf := chain[0]
	seen := make(map[string]struct{})
	names := make([]string, 0, 1+len(leaf.DNSNames))
	if cn := leaf.Subject.CommonName; cn != "" {
		seen[cn] = struct{}{}
		names = append(names, cn)
	}
	for _, name := range leaf.DNSNames {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if _, err := fmt.Fprintf(s.file, "%s,%s\r\n", url, name); err != nil {
			s.log.Debugf("%s: writing certificate name: %v", url, err)
			return
		}
	}
}

// Close flushes and closes the underlying file.
func (s *CertNameSink) Close() error {
	if s == nil {
		return nil
	}
	return s.file.Close()
}
