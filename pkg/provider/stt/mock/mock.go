// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to feed controlled transcripts to the pipeline and to inspect
// which audio chunks were submitted for transcription.
//
// Example:
//
//	p := &mock.Provider{
//	    TranscribeFunc: func(call int, chunk types.AudioChunk) (*stt.Result, error) {
//	        return &stt.Result{Text: "hello", ChunkID: chunk.ChunkID}, nil
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/voxvista/voxvista/pkg/provider/stt"
	"github.com/voxvista/voxvista/pkg/types"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Chunk is the audio chunk passed to Transcribe.
	Chunk types.AudioChunk
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// TranscribeFunc computes the response for each call. call is the
	// zero-based invocation index. If nil, Transcribe returns an empty Result.
	TranscribeFunc func(call int, chunk types.AudioChunk) (*stt.Result, error)

	calls []TranscribeCall
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, chunk types.AudioChunk) (*stt.Result, error) {
	p.mu.Lock()
	call := len(p.calls)
	p.calls = append(p.calls, TranscribeCall{Ctx: ctx, Chunk: chunk})
	fn := p.TranscribeFunc
	p.mu.Unlock()

	if fn == nil {
		return &stt.Result{ChunkID: chunk.ChunkID, Timestamp: chunk.Timestamp}, nil
	}
	return fn(call, chunk)
}

// Calls returns a copy of all recorded invocations.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Reset clears the recorded invocations.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
