// Package inspect probes a domain's four endpoint variants (http, https,
// with and without www), evaluates TLS trust, traces redirects, parses
// HSTS, and condenses everything into a flat per-domain result record.
package inspect

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/khanhnv2901/httpswatch/internal/refdata"
	"github.com/khanhnv2901/httpswatch/internal/scanner"
	"github.com/khanhnv2901/httpswatch/internal/truststore"
)

// Inspector runs the full inspection pipeline for one domain at a time. It
// is safe for concurrent use: the DNS cache and the augmented trust-store
// files are the only shared mutable state, and both serialize internally.
type Inspector struct {
	opts     Options
	refdata  *refdata.Store
	resolver *Resolver
	public   *truststore.Store
	custom   *truststore.Store
	prober   *Prober
	names    *CertNameSink
	log      *zap.SugaredLogger
}

// New builds an Inspector: trust stores opened (and writable copies
// prepared), the cached resolver configured, and the scanner, evaluator,
// and prober wired together. The reference store must be populated before
// any preload or base-domain judgment runs; New only requires it to be
// non-nil so callers can load lists concurrently with construction.
func New(opts Options, ref *refdata.Store, logger *zap.SugaredLogger) (*Inspector, error) {
	if ref == nil {
		return nil, fmt.Errorf("inspect: reference data store is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	public, err := truststore.Open("", opts.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("opening public trust store: %w", err)
	}
	var custom *truststore.Store
	if opts.CAFile != "" {
		custom, err = truststore.Open(opts.CAFile, opts.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("opening custom trust store: %w", err)
		}
	}
	var ptInt *truststore.Store
	if opts.PTIntCAFile != "" {
		ptInt, err = truststore.Open(opts.PTIntCAFile, opts.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("opening public intermediates bundle: %w", err)
		}
	}

	// The all-purpose store: what both the probe's verified requests and
	// the intermediate repair validate against.
	all := public
	if custom != nil {
		all = custom
	}

	resolver := NewResolver(opts.DNS, opts.timeout())

	var names *CertNameSink
	if opts.SaveCertNames {
		names, err = NewCertNameSink(opts.CertNamesFile, logger)
		if err != nil {
			return nil, err
		}
	}

	sc := &scanner.Scanner{
		Timeout: opts.timeout(),
		Lookup:  resolver.Lookup,
		Logger:  logger,
		Public:  public,
		Custom:  custom,
	}
	intermediates := &scanner.IntermediateResolver{
		Logger: logger,
		All:    all,
		PT:     ptInt,
	}
	evaluator := &Evaluator{
		scanner:       sc,
		intermediates: intermediates,
		ptInt:         ptInt,
		names:         names,
		log:           logger,
	}

	ins := &Inspector{
		opts:     opts,
		refdata:  ref,
		resolver: resolver,
		public:   public,
		custom:   custom,
		names:    names,
		log:      logger,
	}
	ins.prober = &Prober{
		opts:          opts,
		resolver:      resolver,
		roots:         all.Pool,
		evaluator:     evaluator,
		intermediates: intermediates,
		refdata:       ref,
		log:           logger,
	}
	return ins, nil
}

// Inspect runs the pipeline for one hostname and returns its result
// record. It fails only on the programming-contract violations (reference
// lists never initialized); endpoint-level failures are folded into the
// record.
func (ins *Inspector) Inspect(ctx context.Context, hostname string) (*Result, error) {
	return ins.InspectDomain(ctx, NewDomain(hostname))
}

// InspectDomain is Inspect for a caller-constructed Domain, which may
// carry injected preload-list snapshots.
func (ins *Inspector) InspectDomain(ctx context.Context, d *Domain) (*Result, error) {
	if !ins.refdata.Ready() {
		return nil, refdata.ErrNotInitialized
	}

	ins.log.Infof("inspecting %s", d.Domain)

	// Each domain's pipeline runs sequentially; blocking network I/O is
	// the only suspension point.
	ins.prober.Probe(ctx, d.HTTP)
	ins.prober.Probe(ctx, d.HTTPWWW)
	ins.prober.Probe(ctx, d.HTTPS)
	ins.prober.Probe(ctx, d.HTTPSWWW)

	hstsCheck(d.HTTPS)
	hstsCheck(d.HTTPSWWW)

	return resultFor(d, ins.refdata, ins.log)
}

// Close releases resources held by optional sinks and reports where any
// trust store augmented during the run was persisted.
func (ins *Inspector) Close() error {
	for _, store := range []*truststore.Store{ins.public, ins.custom} {
		if store != nil && store.Augmented() {
			ins.log.Infof("trust store augmented during run, persisted to %s", store.Path())
		}
	}
	return ins.names.Close()
}
