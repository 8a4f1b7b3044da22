// Package speech provides a client for the speech-to-text service. A
// transcription is asynchronous: upload the audio, submit a job, then poll
// until the job reports completed or error.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brokerdesk/callpipe/internal/model"
)

// Client defines the transcription operations.
type Client interface {
	// Transcribe uploads the audio file, submits a job, and polls until the
	// transcript is ready or the poll deadline passes.
	Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error)
}

// Option configures the speech client.
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

// WithPollInterval sets the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *httpClient) {
		c.pollInterval = d
	}
}

// WithPollTimeout sets the overall deadline for a transcription job.
func WithPollTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.pollTimeout = d
	}
}

// WithSpeakerLabels toggles speaker diarization.
func WithSpeakerLabels(enabled bool) Option {
	return func(c *httpClient) {
		c.speakerLabels = enabled
	}
}

// WithLanguageCode sets the expected language of the recordings.
func WithLanguageCode(code string) Option {
	return func(c *httpClient) {
		c.languageCode = code
	}
}

type httpClient struct {
	apiKey        string
	baseURL       string
	speakerLabels bool
	languageCode  string
	pollInterval  time.Duration
	pollTimeout   time.Duration
	http          *http.Client
}

// NewClient creates a speech-to-text client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		baseURL:       "https://api.assemblyai.com/v2",
		speakerLabels: true,
		languageCode:  "en_us",
		pollInterval:  3 * time.Second,
		pollTimeout:   5 * time.Minute,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
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
	UploadURL string `json:"upload_url"`
}

type transcriptJob struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence"`
	Error      string         `json:"error"`
	Utterances []jobUtterance `json:"utterances"`
}

type jobUtterance struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

func (c *httpClient) Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error) {
	audioURL, err := c.upload(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	jobID, err := c.submit(ctx, audioURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("speech: submitted transcription job",
		zap.String("file", filepath.Base(audioPath)),
		zap.String("job_id", jobID),
	)

	return c.poll(ctx, jobID)
}

// upload streams the raw audio bytes to the service and returns the
// temporary URL the job submission references.
func (c *httpClient) upload(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", eris.Wrapf(err, "speech: open %s", audioPath)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", f)
	if err != nil {
		return "", eris.Wrap(err, "speech: create upload request")
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "speech: upload request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "speech: read upload response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("speech: upload status %d: %s", resp.StatusCode, string(body))
	}

	var ur uploadResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return "", eris.Wrap(err, "speech: unmarshal upload response")
	}
	if ur.UploadURL == "" {
		return "", eris.New("speech: empty upload url")
	}
	return ur.UploadURL, nil
}

func (c *httpClient) submit(ctx context.Context, audioURL string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"audio_url":      audioURL,
		"speaker_labels": c.speakerLabels,
		"language_code":  c.languageCode,
	})
	if err != nil {
		return "", eris.Wrap(err, "speech: marshal job request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "speech: create job request")
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "speech: job request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "speech: read job response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("speech: job status %d: %s", resp.StatusCode, string(body))
	}

	var job transcriptJob
	if err := json.Unmarshal(body, &job); err != nil {
		return "", eris.Wrap(err, "speech: unmarshal job response")
	}
	if job.ID == "" {
		return "", eris.New("speech: empty job id")
	}
	return job.ID, nil
}

// poll checks job status until completed, error, or the poll deadline.
func (c *httpClient) poll(ctx context.Context, jobID string) (*model.Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.status(ctx, jobID)
		if err != nil {
			// The deadline can expire while a status request is in flight;
			// report that as a poll timeout, not a request failure.
			if ctx.Err() != nil {
				return nil, eris.Wrapf(ctx.Err(), "speech: job %s did not finish", jobID)
			}
			return nil, err
		}

		switch job.Status {
		case "completed":
			return jobToTranscript(job), nil
		case "error":
			return nil, eris.Errorf("speech: transcription failed: %s", job.Error)
		case "queued", "processing":
			// keep polling
		default:
			return nil, eris.Errorf("speech: unknown job status %q", job.Status)
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrapf(ctx.Err(), "speech: job %s did not finish", jobID)
		case <-ticker.C:
		}
	}
}

func (c *httpClient) status(ctx context.Context, jobID string) (*transcriptJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transcript/"+jobID, nil)
	if err != nil {
		return nil, eris.Wrap(err, "speech: create status request")
	}
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "speech: status request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "speech: read status response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("speech: status %d: %s", resp.StatusCode, string(body))
	}

	var job transcriptJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, eris.Wrap(err, "speech: unmarshal status response")
	}
	return &job, nil
}

func jobToTranscript(job *transcriptJob) *model.Transcript {
	t := &model.Transcript{
		ID:         job.ID,
		Text:       job.Text,
		Confidence: job.Confidence,
	}
	for _, u := range job.Utterances {
		t.Utterances = append(t.Utterances, model.Utterance{
			Speaker:    u.Speaker,
			Text:       u.Text,
			Start:      u.Start,
			End:        u.End,
			Confidence: u.Confidence,
		})
	}
	return t
}
