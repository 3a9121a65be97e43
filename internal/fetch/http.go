package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
)

// HTTPFetcher retrieves feed bytes over HTTP(S), adding a Basic auth header
// when the Source carries credentials (AUTH_URL transport).
type HTTPFetcher struct {
	client       *http.Client
	maxRedirects int
}

// NewHTTPFetcher builds an HTTPFetcher capped at maxRedirects hops.
func NewHTTPFetcher(timeout time.Duration, maxRedirects int) *HTTPFetcher {
	f := &HTTPFetcher{maxRedirects: maxRedirects}
	f.client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, &Error{Kind: ErrKindFetch, Reason: "build request: " + err.Error(), Err: err}
	}

	if src.Transport == domain.TransportAuthURL && src.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(src.Username + ":" + src.Password))
		req.Header.Set("Authorization", "Basic "+creds)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &Error{Kind: ErrKindTimeout, Reason: err.Error(), Err: err}
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{Kind: ErrKindTimeout, Reason: err.Error(), Err: err}
		}
		return nil, &Error{Kind: ErrKindFetch, Reason: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Kind:   ErrKindFetch,
			Status: resp.StatusCode,
			Reason: http.StatusText(resp.StatusCode),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrKindFetch, Reason: "read body: " + err.Error(), Err: err}
	}
	return data, nil
}
