// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., a hosted Whisper
// inference endpoint) and exposes a uniform chunk-oriented interface: the
// speech accumulator produces one AudioChunk per utterance and the provider
// turns it into text. There is no streaming session — utterances are already
// delimited by the voice-activity gate before they reach the provider.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package stt

import (
	"context"

	"github.com/voxvista/voxvista/pkg/types"
)

// Result is the outcome of transcribing a single utterance.
type Result struct {
	// Text is the recognised transcript. Empty when the provider heard
	// nothing intelligible; callers treat an empty transcript as "no turn".
	Text string

	// Confidence is the provider's confidence in Text (0.0–1.0). Zero when
	// the provider does not report one.
	Confidence float64

	// Timestamp is copied from the input chunk: the utterance start in
	// seconds since the Unix epoch. Carrying it through keeps the turn's
	// identity stable across the pipeline.
	Timestamp float64

	// ChunkID is copied from the input chunk.
	ChunkID string

	// ProcessingTime is the wall-clock transcription time in seconds.
	ProcessingTime float64
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; utterances from multiple
// sessions may be transcribed in parallel.
type Provider interface {
	// Transcribe converts one completed utterance to text. The provider owns
	// audio conditioning (resampling, normalisation, container format) — the
	// chunk carries raw samples exactly as they arrived on the wire.
	//
	// Returns an error only when the backend could not be reached or replied
	// with a non-retryable failure; an empty-but-successful recognition is a
	// Result with empty Text and a nil error.
	Transcribe(ctx context.Context, chunk types.AudioChunk) (*Result, error)
}
