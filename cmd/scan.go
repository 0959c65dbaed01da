package cmd

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/httpswatch/internal/inspect"
	"github.com/khanhnv2901/httpswatch/internal/refdata"
)

var scanOpts struct {
	timeout       time.Duration
	userAgent     string
	scanADFS      bool
	caFile        string
	ptIntCAFile   string
	dns           []string
	concurrency   int
	rateLimit     int
	format        string
	output        string
	input         string
	preloadCache  string
	saveCertNames bool
	certNamesFile string
}

// resultColumns is the CSV column order, stable so downstream consumers
// can rely on it.
var resultColumns = []string{
	"Domain", "Base Domain", "Canonical URL", "Live",
	"HTTPS Live", "HTTPS Full Connection", "HTTPS Client Auth Required",
	"Redirect", "Redirect To",
	"Valid HTTPS", "HTTPS Publicly Trusted", "HTTPS Custom Truststore Trusted",
	"Defaults to HTTPS", "Downgrades HTTPS", "Strictly Forces HTTPS",
	"HTTPS Bad Chain", "HTTPS Bad Hostname", "HTTPS Expired Cert",
	"HTTPS Self Signed Cert",
	"HSTS", "HSTS Header", "HSTS Max Age", "HSTS Entire Domain",
	"HSTS Preload Ready", "HSTS Preload Pending", "HSTS Preloaded",
	"Base Domain HSTS Preloaded", "Domain Supports HTTPS",
	"Domain Enforces HTTPS", "Domain Uses Strong HSTS", "IP",
	"Server Header", "Server Version", "HTTPS Cert Chain Length",
	"HTTPS Probably Missing Intermediate Cert", "Notes", "Unknown Error",
}

var scanCmd = &cobra.Command{
	Use:   "scan [domains...]",
	Short: "Inspect domains' four endpoint variants and report HTTPS/HSTS judgments",
	RunE: func(cmd *cobra.Command, args []string) error {
		domains, err := gatherDomains(args, scanOpts.input)
		if err != nil {
			return err
		}
		if len(domains) == 0 {
			return fmt.Errorf("no domains given (pass them as arguments or via --input)")
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		ref := refdata.New()
		preloadDir := scanOpts.preloadCache
		if preloadDir == "" {
			preloadDir = cacheDir
		}
		loader := &refdata.Loader{CacheDir: preloadDir}
		if err := loader.Load(ctx, ref); err != nil {
			return fmt.Errorf("loading reference data: %w", err)
		}

		certNamesFile := scanOpts.certNamesFile
		if certNamesFile == "" {
			certNamesFile = cacheDir + "/cert_names.csv"
		}

		ins, err := inspect.New(inspect.Options{
			Timeout:       scanOpts.timeout,
			UserAgent:     scanOpts.userAgent,
			ScanADFS:      scanOpts.scanADFS,
			CAFile:        scanOpts.caFile,
			PTIntCAFile:   scanOpts.ptIntCAFile,
			DNS:           scanOpts.dns,
			CacheDir:      cacheDir,
			SaveCertNames: scanOpts.saveCertNames,
			CertNamesFile: certNamesFile,
		}, ref, logger)
		if err != nil {
			return err
		}
		defer ins.Close()

		runner := &inspect.Runner{
			Concurrency: scanOpts.concurrency,
			RateLimit:   scanOpts.rateLimit,
		}
		started := time.Now()
		results, err := runner.Run(ctx, ins, domains)
		if err != nil {
			return err
		}

		out := os.Stdout
		if scanOpts.output != "" {
			f, err := os.Create(scanOpts.output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		switch scanOpts.format {
		case "json":
			if err := writeJSON(out, results); err != nil {
				return err
			}
		case "csv":
			if err := writeCSV(out, results); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown output format %q (want json or csv)", scanOpts.format)
		}

		printSummary(results, time.Since(started))
		return nil
	},
}

func init() {
	f := scanCmd.Flags()
	f.DurationVar(&scanOpts.timeout, "timeout", inspect.DefaultTimeout, "connect timeout (read timeout is five times longer)")
	f.StringVar(&scanOpts.userAgent, "user-agent", inspect.DefaultUserAgent, "User-Agent header for all requests")
	f.BoolVar(&scanOpts.scanADFS, "scan-adfs", false, "probe /adfs/ls/ for HSTS on federation endpoints")
	f.StringVar(&scanOpts.caFile, "ca-file", "", "custom CA bundle to trust in addition to the system roots")
	f.StringVar(&scanOpts.ptIntCAFile, "pt-int-ca-file", "", "supplemental bundle of publicly trusted intermediates")
	f.StringSliceVar(&scanOpts.dns, "dns", nil, "nameservers to resolve against (default: system resolver)")
	f.IntVar(&scanOpts.concurrency, "concurrency", 10, "maximum concurrent domain inspections")
	f.IntVar(&scanOpts.rateLimit, "rate", 10, "domain inspections started per second")
	f.StringVar(&scanOpts.format, "format", "json", "output format: json or csv")
	f.StringVarP(&scanOpts.output, "output", "o", "", "write results to a file instead of stdout")
	f.StringVarP(&scanOpts.input, "input", "i", "", "file with one domain per line")
	f.StringVar(&scanOpts.preloadCache, "preload-cache", "", "directory for caching preload lists (default: the third-party cache dir)")
	f.BoolVar(&scanOpts.saveCertNames, "save-cert-names", false, "record CN/SAN names from served certificates")
	f.StringVar(&scanOpts.certNamesFile, "cert-names-file", "", "where to write certificate names (default: <cache>/cert_names.csv)")
}

// gatherDomains merges argument and file domains, normalized and deduped in
// order of first appearance.
func gatherDomains(args []string, inputFile string) ([]string, error) {
	raw := append([]string{}, args...)
	if inputFile != "" {
		f, err := os.Open(inputFile)
		if err != nil {
			return nil, fmt.Errorf("opening input file: %w", err)
		}
		defer f.Close()
		s := bufio.NewScanner(f)
		for s.Scan() {
			raw = append(raw, s.Text())
		}
		if err := s.Err(); err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
	}

	seen := make(map[string]struct{})
	var domains []string
	for _, entry := range raw {
		d := normalizeDomain(entry)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		domains = append(domains, d)
	}
	return domains, nil
}

// normalizeDomain lowercases a domain and strips any scheme, path, and
// leading www prefix so every input names a bare registered host.
func normalizeDomain(entry string) string {
	d := strings.ToLower(strings.TrimSpace(entry))
	if d == "" || strings.HasPrefix(d, "#") {
		return ""
	}
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "https://")
	if i := strings.IndexAny(d, "/?"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, ".")
}

func writeJSON(w io.Writer, results []*inspect.Result) error {
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func writeCSV(w io.Writer, results []*inspect.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(resultColumns); err != nil {
		return err
	}
	for _, r := range results {
		if err := cw.Write(csvRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(r *inspect.Result) []string {
	return []string{
		r.Domain, r.BaseDomain, r.CanonicalURL, csvBool(r.Live),
		csvBool(r.HTTPSLive), csvBool(r.HTTPSFullConnection), csvBool(r.HTTPSClientAuthRequired),
		csvBool(r.Redirect), csvString(r.RedirectTo),
		csvBoolPtr(r.ValidHTTPS), csvBoolPtr(r.HTTPSPubliclyTrusted), csvBoolPtr(r.HTTPSCustomTrusted),
		csvBool(r.DefaultsToHTTPS), csvBool(r.DowngradesHTTPS), csvBool(r.StrictlyForcesHTTPS),
		csvBoolPtr(r.HTTPSBadChain), csvBoolPtr(r.HTTPSBadHostname), csvBoolPtr(r.HTTPSExpiredCert),
		csvBoolPtr(r.HTTPSSelfSignedCert),
		csvBoolPtr(r.HSTS), csvString(r.HSTSHeader), csvInt(r.HSTSMaxAge), csvBoolPtr(r.HSTSEntireDomain),
		csvBoolPtr(r.HSTSPreloadReady), csvBool(r.HSTSPreloadPending), csvBool(r.HSTSPreloaded),
		csvBool(r.BaseDomainPreloaded), csvBool(r.DomainSupportsHTTPS),
		csvBool(r.DomainEnforcesHTTPS), csvBoolPtr(r.DomainUsesStrongHSTS), csvString(r.IP),
		csvString(r.ServerHeader), csvString(r.ServerVersion), csvInt(r.HTTPSCertChainLength),
		csvBoolPtr(r.HTTPSProbablyMissingIntermediate), r.Notes, csvBool(r.UnknownError),
	}
}

func csvBool(v bool) string {
	return strconv.FormatBool(v)
}

func csvBoolPtr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

func csvInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func csvString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
