// Package telephony provides a client for the call-log API of the phone
// system vendor. Authentication uses OAuth client credentials; the client
// caches the access token and refreshes it shortly before expiry.
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brokerdesk/callpipe/internal/model"
)

// Client defines the call-log operations.
type Client interface {
	// CallLogs returns every call with a recording in the date range,
	// following pagination until the vendor reports no more pages.
	CallLogs(ctx context.Context, fromDate, toDate string) ([]model.CallRecord, error)
	// Token returns a valid access token, refreshing it if needed. The
	// recording fetcher reuses it for authenticated download URLs.
	Token(ctx context.Context) (string, error)
}

// Option configures the telephony client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPageSize sets the call-log page size.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		c.pageSize = n
	}
}

type httpClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	pageSize     int
	http         *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

// NewClient creates a telephony call-log client.
func NewClient(baseURL, clientID, clientSecret string, opts ...Option) Client {
	c := &httpClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		pageSize:     100,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns the cached access token, fetching a new one when the cached
// token has less than a minute of life left.
func (c *httpClient) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "telephony: create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "telephony: token request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "telephony: read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("telephony: token status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", eris.Wrap(err, "telephony: unmarshal token response")
	}
	if tr.AccessToken == "" {
		return "", eris.New("telephony: empty access token")
	}

	c.token = tr.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)

	zap.L().Debug("telephony: refreshed access token",
		zap.Int("expires_in", tr.ExpiresIn),
	)
	return c.token, nil
}

type callLogPage struct {
	Calls      []callLogEntry `json:"calls"`
	Page       int            `json:"page"`
	TotalPages int            `json:"total_pages"`
}

type callLogEntry struct {
	ID           string `json:"id"`
	BrokerID     string `json:"broker_id"`
	RecordingURL string `json:"recording_url"`
	FromName     string `json:"from_name"`
	FromNumber   string `json:"from_number"`
	ToNumber     string `json:"to_number"`
	StartTime    string `json:"start_time"`
	Duration     int    `json:"duration"`
}

// CallLogs pages through the call-log endpoint for the date range. Calls
// without a recording URL are dropped because the pipeline has nothing to
// process for them.
func (c *httpClient) CallLogs(ctx context.Context, fromDate, toDate string) ([]model.CallRecord, error) {
	var calls []model.CallRecord
	skipped := 0

	for page := 1; ; page++ {
		p, err := c.callLogPage(ctx, fromDate, toDate, page)
		if err != nil {
			return nil, err
		}

		for _, e := range p.Calls {
			if e.RecordingURL == "" {
				skipped++
				continue
			}
			calls = append(calls, model.CallRecord{
				CallID:       e.ID,
				BrokerID:     e.BrokerID,
				RecordingURL: e.RecordingURL,
				FromName:     e.FromName,
				FromNumber:   e.FromNumber,
				ToNumber:     e.ToNumber,
				StartTime:    e.StartTime,
				Duration:     e.Duration,
			})
		}

		if p.TotalPages == 0 || page >= p.TotalPages {
			break
		}
	}

	zap.L().Info("telephony: fetched call logs",
		zap.String("from", fromDate),
		zap.String("to", toDate),
		zap.Int("calls", len(calls)),
		zap.Int("skipped_no_recording", skipped),
	)
	return calls, nil
}

func (c *httpClient) callLogPage(ctx context.Context, fromDate, toDate string, page int) (*callLogPage, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{
		"from_date": {fromDate},
		"to_date":   {toDate},
		"page":      {fmt.Sprint(page)},
		"page_size": {fmt.Sprint(c.pageSize)},
	}
	reqURL := c.baseURL + "/v1/call-logs?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "telephony: create call-log request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "telephony: call-log request failed")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("telephony: call-log status %d: %s", statusCode, string(body))
	}

	var p callLogPage
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "telephony: unmarshal call-log page")
	}
	return &p, nil
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (429, 500, 502, 503). Returns the response body and
// status code on success, or the last error after exhausting retries.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "telephony: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("telephony: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}
