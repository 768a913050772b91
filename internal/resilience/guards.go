package resilience

import (
	"context"

	"github.com/voxvista/voxvista/internal/tooling"
	"github.com/voxvista/voxvista/pkg/provider/stt"
	"github.com/voxvista/voxvista/pkg/types"
)

// Compile-time interface assertions.
var (
	_ stt.Provider      = (*GuardedSTT)(nil)
	_ tooling.Transport = (*GuardedTransport)(nil)
)

// GuardedSTT wraps an stt.Provider with a circuit breaker. When the
// transcription backend fails repeatedly the breaker opens and utterances fail
// fast with [ErrCircuitOpen] instead of queueing behind a dead endpoint.
type GuardedSTT struct {
	inner   stt.Provider
	breaker *CircuitBreaker
}

// NewGuardedSTT wraps provider. Zero-value config fields get the standard
// breaker defaults; the Name defaults to "stt".
func NewGuardedSTT(provider stt.Provider, cfg CircuitBreakerConfig) *GuardedSTT {
	if cfg.Name == "" {
		cfg.Name = "stt"
	}
	return &GuardedSTT{inner: provider, breaker: NewCircuitBreaker(cfg)}
}

// Transcribe implements stt.Provider.
func (g *GuardedSTT) Transcribe(ctx context.Context, chunk types.AudioChunk) (*stt.Result, error) {
	var result *stt.Result
	err := g.breaker.Execute(func() error {
		var err error
		result, err = g.inner.Transcribe(ctx, chunk)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// State exposes the breaker state for readiness checks.
func (g *GuardedSTT) State() State { return g.breaker.State() }

// GuardedTransport wraps a tooling.Transport with a circuit breaker shared
// across Connect, ToolCall and ListTools, since all three ride the same child
// process.
type GuardedTransport struct {
	inner   tooling.Transport
	breaker *CircuitBreaker
}

// NewGuardedTransport wraps transport. Zero-value config fields get the
// standard breaker defaults; the Name defaults to "toolserver".
func NewGuardedTransport(transport tooling.Transport, cfg CircuitBreakerConfig) *GuardedTransport {
	if cfg.Name == "" {
		cfg.Name = "toolserver"
	}
	return &GuardedTransport{inner: transport, breaker: NewCircuitBreaker(cfg)}
}

// Connect implements tooling.Transport.
func (g *GuardedTransport) Connect(ctx context.Context) error {
	return g.breaker.Execute(func() error { return g.inner.Connect(ctx) })
}

// ToolCall implements tooling.Transport.
func (g *GuardedTransport) ToolCall(ctx context.Context, rawRequest string) (map[string]any, error) {
	var resp map[string]any
	err := g.breaker.Execute(func() error {
		var err error
		resp, err = g.inner.ToolCall(ctx, rawRequest)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ListTools implements tooling.Transport.
func (g *GuardedTransport) ListTools(ctx context.Context) ([]string, error) {
	var tools []string
	err := g.breaker.Execute(func() error {
		var err error
		tools, err = g.inner.ListTools(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tools, nil
}

// State exposes the breaker state for readiness checks.
func (g *GuardedTransport) State() State { return g.breaker.State() }
