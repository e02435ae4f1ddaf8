package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second

	// maxFeedBytes caps a single fetch. Full public catalogues are a few MB.
	maxFeedBytes = 50 << 20
)

// Fetcher retrieves raw feed text from an http(s) URL or a local file path.
type Fetcher struct {
	source     string
	httpClient *http.Client
	maxBytes   int64
}

// NewFetcher creates a Fetcher for source. A non-positive timeout uses the
// default of 30s.
func NewFetcher(source string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fetcher{
		source:     source,
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxFeedBytes,
	}
}

// Source returns the configured source.
func (f *Fetcher) Source() string {
	return f.source
}

// Fetch reads the whole feed. Every failure is returned as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.source == "" {
		return nil, &FetchError{Source: f.source, Err: errors.New("no feed source configured")}
	}

	var (
		data []byte
		err  error
	)
	if isRemote(f.source) {
		data, err = f.fetchHTTP(ctx)
	} else {
		data, err = f.readFile()
	}
	if err != nil {
		return nil, &FetchError{Source: f.source, Err: err}
	}
	return data, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.source, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	return f.readLimited(resp.Body)
}

func (f *Fetcher) readFile() ([]byte, error) {
	file, err := os.Open(f.source)
	if err != nil {
		return nil, fmt.Errorf("opening feed file: %w", err)
	}
	defer file.Close()
	return f.readLimited(file)
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading feed body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("feed exceeds %d byte limit", f.maxBytes)
	}
	return body, nil
}

func isRemote(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
