// Package bubble provides a client for the Bubble backend that serves the
// agent-facing app. Audio files are uploaded to Bubble's file store and the
// returned public URL is what the app plays back; analysis results land in
// the app's database through workflow endpoints.
package bubble

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client defines the backend store operations.
type Client interface {
	// UploadFile uploads a local file and returns its public URL.
	UploadFile(ctx context.Context, path string) (string, error)
	// TriggerWorkflow posts a JSON payload to a named workflow endpoint.
	TriggerWorkflow(ctx context.Context, workflow string, payload any) error
}

// Option configures the Bubble client.
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

type httpClient struct {
	baseURL  string
	apiToken string
	http     *http.Client
}

// NewClient creates a Bubble backend client.
func NewClient(baseURL, apiToken string, opts ...Option) Client {
	c := &httpClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		http: &http.Client{
			// Uploads carry whole recordings, so the timeout is generous.
			Timeout: 2 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type uploadResponse struct {
	URL string `json:"url"`
}

func (c *httpClient) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "bubble: open %s", path)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", eris.Wrap(err, "bubble: create form file")
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", eris.Wrap(err, "bubble: copy file into form")
	}
	if err := mw.Close(); err != nil {
		return "", eris.Wrap(err, "bubble: close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fileupload", &buf)
	if err != nil {
		return "", eris.Wrap(err, "bubble: create upload request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "bubble: upload request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "bubble: read upload response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("bubble: upload status %d: %s", resp.StatusCode, string(body))
	}

	// Bubble returns either a JSON object with a url field or a bare
	// quoted URL string depending on the endpoint version.
	var ur uploadResponse
	if err := json.Unmarshal(body, &ur); err != nil || ur.URL == "" {
		var bare string
		if err := json.Unmarshal(body, &bare); err != nil || bare == "" {
			return "", eris.Errorf("bubble: unexpected upload response: %s", string(body))
		}
		ur.URL = bare
	}

	// Protocol-relative URLs come back from older Bubble versions.
	if strings.HasPrefix(ur.URL, "//") {
		ur.URL = "https:" + ur.URL
	}

	zap.L().Debug("bubble: uploaded file",
		zap.String("file", filepath.Base(path)),
		zap.String("url", ur.URL),
	)
	return ur.URL, nil
}

func (c *httpClient) TriggerWorkflow(ctx context.Context, workflow string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "bubble: marshal %s payload", workflow)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/1.1/wf/"+workflow, bytes.NewReader(data))
	if err != nil {
		return eris.Wrap(err, "bubble: create workflow request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "bubble: workflow %s request", workflow)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "bubble: read workflow response")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("bubble: workflow %s status %d: %s", workflow, resp.StatusCode, string(body))
	}

	return nil
}
