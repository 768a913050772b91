// Package hfspace implements the stt.Provider interface against a hosted
// inference endpoint (Hugging Face Inference API or a compatible space)
// running a Whisper-family model.
//
// Audio conditioning happens here, not in the accumulator: samples are
// resampled to the model rate, peak-normalised, converted to 16-bit PCM, and
// wrapped in a WAV container so the endpoint can sniff the format. A 503 from
// the endpoint means the model is still loading and is retried with
// exponential backoff; any other non-2xx status surfaces immediately.
package hfspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxvista/voxvista/internal/retry"
	"github.com/voxvista/voxvista/pkg/audio"
	"github.com/voxvista/voxvista/pkg/provider/stt"
	"github.com/voxvista/voxvista/pkg/types"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

const (
	defaultSampleRate = 16000
	defaultMaxRetries = 3
	defaultTimeout    = 30 * time.Second
)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithSampleRate sets the model's expected sample rate. Default 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithMaxRetries sets the number of 503-loading retries. Default 3.
func WithMaxRetries(n int) Option {
	return func(p *Provider) { p.maxRetries = n }
}

// WithTimeout sets the per-request HTTP timeout. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client. Primarily used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider using an HTTP inference endpoint.
type Provider struct {
	endpoint   string
	apiKey     string
	sampleRate int
	maxRetries int
	httpClient *http.Client
}

// New creates a Provider for the given inference endpoint. apiKey may be
// empty for unauthenticated endpoints.
func New(endpoint, apiKey string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("hfspace: endpoint must not be empty")
	}
	p := &Provider{
		endpoint:   endpoint,
		apiKey:     apiKey,
		sampleRate: defaultSampleRate,
		maxRetries: defaultMaxRetries,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// transcriptionBody is the endpoint's JSON response shape.
type transcriptionBody struct {
	Text string `json:"text"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, chunk types.AudioChunk) (*stt.Result, error) {
	start := time.Now()

	wav := p.conditionAudio(chunk)

	var lastStatus int
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, status, err := p.post(ctx, wav)
		if err != nil {
			return nil, fmt.Errorf("hfspace: transcribe request: %w", err)
		}
		lastStatus = status

		switch {
		case status == http.StatusOK:
			var tb transcriptionBody
			if err := json.Unmarshal(body, &tb); err != nil {
				return nil, fmt.Errorf("hfspace: decode response: %w", err)
			}
			return &stt.Result{
				Text:           strings.TrimSpace(tb.Text),
				Timestamp:      chunk.Timestamp,
				ChunkID:        chunk.ChunkID,
				ProcessingTime: time.Since(start).Seconds(),
			}, nil

		case status == http.StatusServiceUnavailable:
			// Model still loading; back off 2^attempt seconds and retry.
			if err := retry.Sleep(ctx, attempt); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("hfspace: transcribe failed: status %d: %s", status, truncate(body, 200))
		}
	}

	return nil, fmt.Errorf("hfspace: model not ready after %d attempts (last status %d)", p.maxRetries, lastStatus)
}

// conditionAudio resamples to the model rate, peak-normalises, and wraps the
// samples in a 16-bit PCM WAV container.
func (p *Provider) conditionAudio(chunk types.AudioChunk) []byte {
	samples := chunk.Data
	if chunk.SampleRate != p.sampleRate {
		samples = audio.Resample(samples, chunk.SampleRate, p.sampleRate)
	}
	samples = audio.NormalizePeak(samples, 1.0)
	return audio.WAV(audio.ToPCM16(samples), p.sampleRate)
}

// post uploads the WAV payload and returns the response body and status.
func (p *Provider) post(ctx context.Context, wav []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(wav))
	if err != nil {
		return nil, 0, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
