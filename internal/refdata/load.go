package refdata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	preloadListURL = "https://chromium.googlesource.com/chromium/src/net/+/main/http/transport_security_state_static.json?format=TEXT"
	pendingListURL = "https://hstspreload.org/api/v2/pending"

	cachePreloadFile = "preloaded.json"
	cachePendingFile = "preload-pending.json"
)

var lineComment = regexp.MustCompile(`^\s*//.*$`)

// Loader fetches the preload and pending-preload lists, optionally caching
// the parsed results in CacheDir between runs.
type Loader struct {
	Client   *http.Client
	CacheDir string
}

// Load populates the preload and pending lists of store, preferring cached
// copies when a cache directory is configured. The suffix resolver is always
// set to the compiled-in public suffix list.
func (l *Loader) Load(ctx context.Context, store *Store) error {
	store.SetSuffixResolver(PublicSuffixes{})

	preload, err := l.loadCachedOrFetch(ctx, cachePreloadFile, l.fetchPreloadList)
	if err != nil {
		return fmt.Errorf("load preload list: %w", err)
	}
	store.SetPreloadList(preload)

	pending, err := l.loadCachedOrFetch(ctx, cachePendingFile, l.fetchPendingList)
	if err != nil {
		return fmt.Errorf("load pending preload list: %w", err)
	}
	store.SetPendingList(pending)

	return nil
}

func (l *Loader) loadCachedOrFetch(ctx context.Context, filename string, fetch func(context.Context) ([]string, error)) ([]string, error) {
	var cachePath string
	if l.CacheDir != "" {
		cachePath = filepath.Join(l.CacheDir, filename)
		if raw, err := os.ReadFile(cachePath); err == nil {
			var domains []string
			if err := json.Unmarshal(raw, &domains); err == nil {
				return domains, nil
			}
		}
	}

	domains, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	if cachePath != "" {
		if raw, err := json.Marshal(domains); err == nil {
			_ = os.WriteFile(cachePath, raw, 0o644)
		}
	}
	return domains, nil
}

// fetchPreloadList downloads Chromium's transport_security_state_static.json
// and returns the names of entries that include subdomains. googlesource.com
// serves raw files base64-encoded, and the JSON itself carries // comments
// that must be stripped before decoding.
func (l *Loader) fetchPreloadList(ctx context.Context) ([]string, error) {
	raw, err := l.get(ctx, preloadListURL)
	if err != nil {
		return nil, err
	}
	return parsePreloadList(raw)
}

func parsePreloadList(raw []byte) ([]string, error) {
	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decode preload list: %w", err)
	}

	var cleaned strings.Builder
	for _, line := range strings.Split(string(decoded), "\n") {
		cleaned.WriteString(lineComment.ReplaceAllString(line, ""))
	}

	var parsed struct {
		Entries []struct {
			Name              string `json:"name"`
			IncludeSubdomains bool   `json:"include_subdomains"`
		} `json:"entries"`
	}
	if err := json.Unmarshal([]byte(cleaned.String()), &parsed); err != nil {
		return nil, fmt.Errorf("parse preload list: %w", err)
	}

	var preloaded []string
	for _, entry := range parsed.Entries {
		if entry.IncludeSubdomains {
			preloaded = append(preloaded, entry.Name)
		}
	}
	return preloaded, nil
}

func (l *Loader) fetchPendingList(ctx context.Context) ([]string, error) {
	raw, err := l.get(ctx, pendingListURL)
	if err != nil {
		return nil, err
	}
	return parsePendingList(raw)
}

func parsePendingList(raw []byte) ([]string, error) {
	var entries []struct {
		Name              string `json:"name"`
		IncludeSubdomains bool   `json:"include_subdomains"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse pending list: %w", err)
	}

	var pending []string
	for _, entry := range entries {
		if entry.IncludeSubdomains {
			pending = append(pending, entry.Name)
		}
	}
	return pending, nil
}

func (l *Loader) get(ctx context.Context, url string) ([]byte, error) {
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
