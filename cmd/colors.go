package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/khanhnv2901/httpswatch/internal/inspect"
)

var (
	colorGood = color.New(color.FgGreen).SprintFunc()
	colorInfo = color.New(color.FgCyan).SprintFunc()
	colorWarn = color.New(color.FgYellow).SprintFunc()
	colorBad  = color.New(color.FgRed).SprintFunc()
)

// printSummary writes a colored scan rollup to stderr so it never mixes
// with machine-readable output on stdout.
func printSummary(results []*inspect.Result, elapsed time.Duration) {
	counts := summarize(results)
	stderr := color.Error

	fmt.Fprintf(stderr, "\nScanned %s domains in %s\n",
		colorInfo(len(results)), elapsed.Round(time.Millisecond))
	fmt.Fprintf(stderr, "  live:            %s\n", colorInfo(counts.live))
	fmt.Fprintf(stderr, "  supports https:  %s\n", colorGood(counts.supports))
	fmt.Fprintf(stderr, "  enforces https:  %s\n", colorGood(counts.enforces))
	fmt.Fprintf(stderr, "  downgrades:      %s\n", colorBad(counts.downgrades))
	if counts.errored > 0 {
		fmt.Fprintf(stderr, "  errors:          %s\n", colorWarn(counts.errored))
	}
}

type summaryCounts struct {
	live       int
	supports   int
	enforces   int
	downgrades int
	errored    int
}

func summarize(results []*inspect.Result) summaryCounts {
	var c summaryCounts
	for _, r := range results {
		if r.Live {
			c.live++
		}
		if r.DomainSupportsHTTPS {
			c.supports++
		}
		if r.DomainEnforcesHTTPS {
			c.enforces++
		}
		if r.DowngradesHTTPS {
			c.downgrades++
		}
		if r.UnknownError {
			c.errored++
		}
	}
	return c
}
