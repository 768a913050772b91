package app

import (
	"context"
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxvista/voxvista/internal/config"
	"github.com/voxvista/voxvista/internal/resilience"
	"github.com/voxvista/voxvista/pkg/provider/llm"
	"github.com/voxvista/voxvista/pkg/provider/llm/anyllm"
	llmmock "github.com/voxvista/voxvista/pkg/provider/llm/mock"
	"github.com/voxvista/voxvista/pkg/provider/llm/openai"
	"github.com/voxvista/voxvista/pkg/provider/stt"
	"github.com/voxvista/voxvista/pkg/provider/stt/hfspace"
	sttmock "github.com/voxvista/voxvista/pkg/provider/stt/mock"
	"github.com/voxvista/voxvista/pkg/provider/tts"
	"github.com/voxvista/voxvista/pkg/provider/tts/bark"
	ttsmock "github.com/voxvista/voxvista/pkg/provider/tts/mock"
	"github.com/voxvista/voxvista/pkg/types"
)

// Providers holds one interface value per pipeline stage.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// BuildProviders constructs the pipeline providers selected by cfg. The
// "mock" providers run fully offline and return canned results, which keeps
// the whole server usable without any external service.
func BuildProviders(cfg *config.Config) (*Providers, error) {
	p := &Providers{}

	switch cfg.STT.Provider {
	case "hfspace":
		inner, err := hfspace.New(cfg.STT.Endpoint, cfg.STT.APIKey,
			hfspace.WithSampleRate(cfg.STT.SampleRate),
			hfspace.WithMaxRetries(cfg.STT.MaxRetries),
			hfspace.WithTimeout(cfg.STT.RequestTimeout.Std()),
		)
		if err != nil {
			return nil, fmt.Errorf("app: build stt provider: %w", err)
		}
		p.STT = resilience.NewGuardedSTT(inner, resilience.CircuitBreakerConfig{Name: "stt"})
	case "mock":
		p.STT = &sttmock.Provider{
			TranscribeFunc: func(_ int, chunk types.AudioChunk) (*stt.Result, error) {
				return &stt.Result{
					Text:       "This is a mock transcription.",
					Confidence: 1,
					Timestamp:  chunk.Timestamp,
					ChunkID:    chunk.ChunkID,
				}, nil
			},
		}
	default:
		return nil, fmt.Errorf("app: unknown stt provider %q", cfg.STT.Provider)
	}

	switch cfg.TTS.Provider {
	case "bark":
		provider, err := bark.New(cfg.TTS.Endpoint, cfg.TTS.APIKey,
			bark.WithOutputRate(cfg.TTS.SampleRate),
			bark.WithVoicePreset(cfg.TTS.VoicePreset),
			bark.WithTimeout(cfg.TTS.RequestTimeout.Std()),
		)
		if err != nil {
			return nil, fmt.Errorf("app: build tts provider: %w", err)
		}
		p.TTS = provider
	case "mock":
		p.TTS = &ttsmock.Provider{}
	default:
		return nil, fmt.Errorf("app: unknown tts provider %q", cfg.TTS.Provider)
	}

	switch cfg.LLM.Provider {
	case "openai":
		provider, err := openai.New(cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			return nil, fmt.Errorf("app: build llm provider: %w", err)
		}
		p.LLM = tuned(provider, cfg.LLM)
	case "anyllm":
		var opts []anyllmlib.Option
		if cfg.LLM.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.LLM.APIKey))
		}
		provider, err := anyllm.New(cfg.LLM.AnyLLMProvider, cfg.LLM.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: build llm provider: %w", err)
		}
		p.LLM = tuned(provider, cfg.LLM)
	case "mock":
		p.LLM = &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "This is a mock response."},
		}
	default:
		return nil, fmt.Errorf("app: unknown llm provider %q", cfg.LLM.Provider)
	}

	return p, nil
}

// tunedProvider applies the configured sampling defaults to requests that do
// not set their own.
type tunedProvider struct {
	llm.Provider
	temperature float64
	maxTokens   int
}

func tuned(inner llm.Provider, cfg config.LLMConfig) llm.Provider {
	return &tunedProvider{Provider: inner, temperature: cfg.Temperature, maxTokens: cfg.MaxTokens}
}

func (t *tunedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if req.Temperature == 0 {
		req.Temperature = t.temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = t.maxTokens
	}
	return t.Provider.Complete(ctx, req)
}
