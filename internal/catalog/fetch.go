package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tclemons/salestaxd/internal/model"
)

// RemoteInfo describes the remote sheet as reported by a HEAD probe.
type RemoteInfo struct {
	Size         string
	LastModified string
}

// Fetcher probes and downloads the remote price sheet.
type Fetcher interface {
	Probe(ctx context.Context) (*RemoteInfo, error)
	Download(ctx context.Context) ([]byte, error)
}

// HTTPFetcher fetches the price sheet over HTTP. Probes use a short
// timeout so staleness checks stay cheap; downloads get a longer one.
type HTTPFetcher struct {
	url            string
	probeClient    *http.Client
	downloadClient *http.Client
}

// NewHTTPFetcher returns a fetcher for the given sheet URL. Zero
// timeouts fall back to the defaults.
func NewHTTPFetcher(url string, probeTimeout, downloadTimeout time.Duration) *HTTPFetcher {
	if probeTimeout <= 0 {
		probeTimeout = model.DefaultProbeTimeout
	}
	if downloadTimeout <= 0 {
		downloadTimeout = model.DefaultDownloadTimeout
	}
	return &HTTPFetcher{
		url:            url,
		probeClient:    &http.Client{Timeout: probeTimeout},
		downloadClient: &http.Client{Timeout: downloadTimeout},
	}
}

// Probe issues a HEAD request and reports the remote size and
// last-modified stamp.
func (f *HTTPFetcher) Probe(ctx context.Context) (*RemoteInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := f.probeClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to probe sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sheet probe returned status %d", resp.StatusCode)
	}

	return &RemoteInfo{
		Size:         resp.Header.Get("Content-Length"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// Download fetches the full sheet body.
func (f *HTTPFetcher) Download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := f.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sheet download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet body: %w", err)
	}
	return data, nil
}
