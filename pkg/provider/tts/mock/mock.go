// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio for synthesis requests and to
// verify the text handed to the backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeFunc: func(call int, req tts.Request) (*tts.Response, error) {
//	        return &tts.Response{AudioData: make([]float32, 2400), SampleRate: 24000}, nil
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/voxvista/voxvista/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeFunc computes the response for each call. call is the
	// zero-based invocation index. If nil, Synthesize returns one second of
	// silence at 24 kHz.
	SynthesizeFunc func(call int, req tts.Request) (*tts.Response, error)

	calls []SynthesizeCall
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Response, error) {
	p.mu.Lock()
	call := len(p.calls)
	p.calls = append(p.calls, SynthesizeCall{Ctx: ctx, Req: req})
	fn := p.SynthesizeFunc
	p.mu.Unlock()

	if fn == nil {
		return &tts.Response{
			AudioData:  make([]float32, 24000),
			SampleRate: 24000,
			Duration:   1,
			Text:       req.Text,
		}, nil
	}
	return fn(call, req)
}

// Calls returns a copy of all recorded invocations.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Reset clears the recorded invocations.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
