package playback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher loads the bytes behind an audio reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// HTTPFetcher downloads audio over HTTP. Resolve, when set, turns relative
// references into absolute URLs.
type HTTPFetcher struct {
	Client  *http.Client
	Resolve func(ref string) string
}

func NewHTTPFetcher(resolve func(string) string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client:  &http.Client{Timeout: timeout},
		Resolve: resolve,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	url := ref
	if f.Resolve != nil {
		url = f.Resolve(ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
