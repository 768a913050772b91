// Package bark implements the tts.Provider interface against a hosted Bark
// inference endpoint.
//
// Bark chokes on symbols and very long prompts, so the request text is
// preprocessed before synthesis: common symbols are spelled out, URLs are
// stripped, and prompts over 500 characters are cut to their first three
// sentences. The endpoint may answer with a WAV container or a bare JSON
// float array; both are accepted. Output audio is resampled to the configured
// rate and peak-normalised to 0.8 so every voice lands at the same loudness.
package bark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxvista/voxvista/pkg/audio"
	"github.com/voxvista/voxvista/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultOutputRate  = 24000
	defaultVoicePreset = "v2/en_speaker_6"
	defaultTimeout     = 60 * time.Second

	// maxTextLen is the prompt length above which the text is cut down to its
	// leading sentences.
	maxTextLen = 500
)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithOutputRate sets the sample rate of the returned audio. Default 24000.
func WithOutputRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// WithVoicePreset sets the voice used when a request does not name one.
func WithVoicePreset(preset string) Option {
	return func(p *Provider) { p.voicePreset = preset }
}

// WithTimeout sets the per-request HTTP timeout. Default 60s; Bark is slow.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client. Primarily used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider using a hosted Bark endpoint.
type Provider struct {
	endpoint    string
	apiKey      string
	outputRate  int
	voicePreset string
	httpClient  *http.Client
}

// New creates a Provider for the given inference endpoint. apiKey may be
// empty for unauthenticated endpoints.
func New(endpoint, apiKey string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("bark: endpoint must not be empty")
	}
	p := &Provider{
		endpoint:    endpoint,
		apiKey:      apiKey,
		outputRate:  defaultOutputRate,
		voicePreset: defaultVoicePreset,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// synthesisRequest is the endpoint's JSON request shape.
type synthesisRequest struct {
	Inputs      string `json:"inputs"`
	VoicePreset string `json:"voice_preset,omitempty"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Response, error) {
	start := time.Now()

	text := PreprocessText(req.Text)
	if text == "" {
		return nil, fmt.Errorf("bark: nothing to synthesise after preprocessing")
	}

	preset := req.VoicePreset
	if preset == "" || preset == "default" {
		preset = p.voicePreset
	}

	body, contentType, err := p.post(ctx, synthesisRequest{Inputs: text, VoicePreset: preset})
	if err != nil {
		return nil, err
	}

	samples, rate, err := decodeAudio(body, contentType, p.outputRate)
	if err != nil {
		return nil, fmt.Errorf("bark: decode audio: %w", err)
	}

	if rate != p.outputRate {
		samples = audio.Resample(samples, rate, p.outputRate)
	}
	samples = audio.NormalizePeak(samples, 0.8)

	return &tts.Response{
		AudioData:      samples,
		SampleRate:     p.outputRate,
		Duration:       float64(len(samples)) / float64(p.outputRate),
		ProcessingTime: time.Since(start).Seconds(),
		Text:           text,
	}, nil
}

func (p *Provider) post(ctx context.Context, sr synthesisRequest) ([]byte, string, error) {
	payload, err := json.Marshal(sr)
	if err != nil {
		return nil, "", fmt.Errorf("bark: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("bark: build request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("bark: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("bark: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("bark: synthesis failed: status %d", resp.StatusCode)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// decodeAudio interprets the endpoint response as either a WAV container or a
// JSON float array at assumedRate.
func decodeAudio(body []byte, contentType string, assumedRate int) ([]float32, int, error) {
	if strings.HasPrefix(contentType, "audio/") || bytes.HasPrefix(body, []byte("RIFF")) {
		return audio.ParseWAV(body)
	}

	var raw []float32
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, 0, fmt.Errorf("neither WAV nor JSON array: %w", err)
	}
	return raw, assumedRate, nil
}

// symbolReplacements spells out symbols Bark mispronounces.
var symbolReplacements = strings.NewReplacer(
	"&", " and ",
	"@", " at ",
	"#", " number ",
	"%", " percent ",
	"+", " plus ",
	"=", " equals ",
)

// PreprocessText prepares text for Bark: strips URLs, spells out symbols,
// collapses whitespace, and cuts prompts over 500 characters down to their
// first three sentences.
func PreprocessText(text string) string {
	words := strings.Fields(text)
	kept := words[:0]
	for _, w := range words {
		if strings.HasPrefix(w, "http://") || strings.HasPrefix(w, "https://") || strings.HasPrefix(w, "www.") {
			continue
		}
		kept = append(kept, w)
	}
	text = strings.Join(kept, " ")

	text = symbolReplacements.Replace(text)
	text = strings.Join(strings.Fields(text), " ")

	if len(text) > maxTextLen {
		text = firstSentences(text, 3)
	}
	return text
}

// firstSentences returns the first n sentences of text, splitting on
// terminal punctuation.
func firstSentences(text string, n int) string {
	count := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return text
}
