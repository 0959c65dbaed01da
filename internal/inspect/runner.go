package inspect

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/khanhnv2901/httpswatch/internal/refdata"
)

// Runner fans domain inspections out over a worker pool with a global rate
// limit. Each domain's pipeline still runs sequentially inside its worker.
type Runner struct {
	Concurrency int           // Maximum number of concurrent inspections
	RateLimit   int           // Domain inspections started per second (global)
	Timeout     time.Duration // Optional per-domain deadline; zero means none
}

// Run inspects every domain and returns results in input order. A domain
// whose inspection fails outright still yields a record, carrying the
// unknown-error flag and the failure in its notes. The one fatal case is
// uninitialized reference data, checked up front.
func (r *Runner) Run(ctx context.Context, ins *Inspector, domains []string) ([]*Result, error) {
	if !ins.refdata.Ready() {
		return nil, refdata.ErrNotInitialized
	}

	concurrency := r.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	rateLimit := r.RateLimit
	if rateLimit < 1 {
		rateLimit = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rateLimit), rateLimit)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	mu := sync.Mutex{}
	results := make([]*Result, 0, len(domains))
	order := make(map[string]int, len(domains))
	for i, d := range domains {
		order[d] = i
	}

	for _, domain := range domains {
		wg.Add(1)
		go func(hostname string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			_ = limiter.Wait(ctx)

			inspectCtx := ctx
			if r.Timeout > 0 {
				var cancel context.CancelFunc
				inspectCtx, cancel = context.WithTimeout(ctx, r.Timeout)
				defer cancel()
			}

			result, err := ins.Inspect(inspectCtx, hostname)
			if err != nil {
				ins.log.Errorf("%s: inspection failed: %v", hostname, err)
				result = &Result{
					Domain:       hostname,
					UnknownError: true,
					Notes:        err.Error(),
				}
			}

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(domain)
	}

	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		return order[results[i].Domain] < order[results[j].Domain]
	})
	return results, nil
}
