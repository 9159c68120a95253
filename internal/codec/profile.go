package codec

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"
)

// maxScriptSize bounds fetched scripts.
const maxScriptSize = 1 << 20

// EUIPlaceholder is replaced by the device EUI in profile URLs.
const EUIPlaceholder = "{eui}"

// HTTPProfileSource fetches device scripts from an HTTP endpoint.
type HTTPProfileSource struct {
	// URL is a template containing EUIPlaceholder.
	URL string

	Client *http.Client
}

// NewHTTPProfileSource creates a profile source with the given timeout.
func NewHTTPProfileSource(url string, timeout time.Duration) *HTTPProfileSource {
	return &HTTPProfileSource{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// FetchScript implements ProfileSource. A 404 response wraps fs.ErrNotExist.
func (s *HTTPProfileSource) FetchScript(ctx context.Context, eui string) ([]byte, error) {
	url := strings.ReplaceAll(s.URL, EUIPlaceholder, eui)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, eui, fs.ErrNotExist)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s: status %d", ErrFetch, eui, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if len(body) > maxScriptSize {
		return nil, fmt.Errorf("%w: %s: script larger than %d bytes", ErrFetch, eui, maxScriptSize)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s: empty script: %w", ErrFetch, eui, fs.ErrNotExist)
	}
	return body, nil
}
