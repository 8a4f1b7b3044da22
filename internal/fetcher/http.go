package fetcher

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/brokerdesk/callpipe/internal/resilience"
)

// HTTPOptions configures the HTTP recording fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration

	// BearerToken is sent as an Authorization header when set. Telephony
	// providers gate recording URLs behind the same OAuth token as the API.
	BearerToken string

	// RatePerSec throttles requests across all downloads. Default: 1.
	RatePerSec float64

	// Retries is the total attempts per download. Default: 3.
	Retries int

	// RetryDelay is the fixed pause between attempts. Default: 2s.
	RetryDelay time.Duration
}

// HTTPFetcher downloads recordings over HTTP with fixed-delay retries and a
// global rate limit.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "callpipe/1.0"
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 1
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
	}
}

// DownloadToFile fetches rawURL and writes it to path. The file is written
// to a temporary name first and renamed into place, so a failed download
// never leaves a truncated recording behind.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL, path string) (int64, error) {
	cfg := resilience.FixedRetryConfig(f.opts.Retries, f.opts.RetryDelay)
	cfg.ShouldRetry = retryableDownload
	cfg.OnRetry = resilience.RetryLogger("recordings", "download")

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (int64, error) {
		return f.downloadOnce(ctx, rawURL, path)
	})
}

func (f *HTTPFetcher) downloadOnce(ctx context.Context, rawURL, path string) (int64, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return 0, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if f.opts.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.opts.BearerToken)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, resilience.NewTransientError(eris.Wrap(err, "fetcher: request"), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("fetcher: status %d from %s", resp.StatusCode, rawURL)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return 0, resilience.NewTransientError(err, resp.StatusCode)
		}
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create temp file")
	}

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, resilience.NewTransientError(eris.Wrap(err, "fetcher: write body"), 0)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, eris.Wrap(err, "fetcher: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return 0, eris.Wrap(err, "fetcher: move into place")
	}

	zap.L().Debug("fetcher: downloaded recording",
		zap.String("url", rawURL),
		zap.Int64("bytes", n),
	)
	return n, nil
}

// retryableDownload retries transient failures and 404s. Providers publish
// recording URLs before the media finishes processing, so an early 404
// usually resolves within a few seconds.
func retryableDownload(err error) bool {
	if resilience.IsTransient(err) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "status 404")
}
