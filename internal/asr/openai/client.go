// Package openai provides an asr.Backend that calls the OpenAI audio
// transcription API (whisper-1 and compatible models).
package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/asr"
)

// Config configures the OpenAI transcription client. APIKey is injected by
// the caller (normally from OPENAI_API_KEY); the client never reads the
// environment itself.
type Config struct {
	BaseURL        string // default https://api.openai.com
	APIKey         string
	Model          string // default "whisper-1"
	TimeoutSeconds int    // default 300
}

// Client is an asr.Backend speaking the OpenAI audio transcription API.
// Each TranscribeFile call is a single HTTP request; rate-limit responses
// come back as retryable errors for the batch layer to handle.
type Client struct {
	cfg    Config
	client *http.Client
}

// Compile-time interface check.
var _ asr.Backend = (*Client)(nil)

// NewClient creates a new OpenAI transcription client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Name returns the backend identifier.
func (c *Client) Name() string { return "openai" }

// transcriptionResponse mirrors the verbose_json response shape.
type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// TranscribeFile uploads the audio file and returns the transcription.
// HTTP 429 and quota-keyword error bodies are returned as retryable;
// everything else, including transport failures, is fatal.
func (c *Client) TranscribeFile(filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: no API key configured (set OPENAI_API_KEY)")
	}

	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	// Stream the multipart body through a pipe so large files are not
	// buffered in memory.
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()

		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			errCh <- fmt.Errorf("create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			errCh <- fmt.Errorf("copy audio data: %w", err)
			return
		}
		_ = writer.WriteField("model", model)
		_ = writer.WriteField("response_format", "verbose_json")
		if opts.Language != "" {
			_ = writer.WriteField("language", opts.Language)
		}

		errCh <- writer.Close()
	}()

	url := c.cfg.BaseURL + "/v1/audio/transcriptions"
	req, err := http.NewRequest(http.MethodPost, url, pr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return nil, fmt.Errorf("multipart write: %w", writeErr)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 200))
		if isRateLimited(resp.StatusCode, body) {
			return nil, asr.Retryable(apiErr)
		}
		return nil, apiErr
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	t := &asr.Transcript{
		Text:     parsed.Text,
		Language: parsed.Language,
		Duration: floatSecToDuration(parsed.Duration),
		Model:    model,
		Backend:  c.Name(),
	}
	for _, s := range parsed.Segments {
		t.Segments = append(t.Segments, asr.Segment{
			Start: floatSecToDuration(s.Start),
			End:   floatSecToDuration(s.End),
			Text:  s.Text,
		})
	}
	return t, nil
}

// HealthCheck probes the models endpoint to verify credentials and
// connectivity.
func (c *Client) HealthCheck() (*asr.HealthStatus, error) {
	status := &asr.HealthStatus{Backend: c.Name()}

	if c.cfg.APIKey == "" {
		status.Message = "no API key configured (set OPENAI_API_KEY)"
		return status, nil
	}

	start := time.Now()
	req, err := http.NewRequest(http.MethodGet, c.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create health request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	status.Latency = time.Since(start)
	if err != nil {
		status.Message = fmt.Sprintf("health check failed: %v", err)
		return status, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status.Message = fmt.Sprintf("unhealthy: http %d: %s", resp.StatusCode, truncate(body, 200))
		return status, nil
	}

	status.OK = true
	status.Message = "healthy"
	return status, nil
}

// rateLimitKeywords match quota/rate-limit error bodies that some gateways
// return with non-429 status codes.
var rateLimitKeywords = []string{"rate limit", "rate_limit", "quota", "429"}

// isRateLimited classifies a non-2xx response as a transient rate-limit
// signal worth retrying.
func isRateLimited(status int, body []byte) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(string(body))
	for _, kw := range rateLimitKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// floatSecToDuration converts fractional seconds to time.Duration.
func floatSecToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// truncate returns the first n bytes of body as a string.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
