// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., a hosted Bark or
// SpeechT5 inference endpoint) and presents a uniform request/response
// interface. Responses carry float32 samples because that is what the client
// protocol transports — the gateway serialises them straight into the
// audio_response message.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Request describes a single synthesis job.
type Request struct {
	// Text is the content to speak. Providers may preprocess it (symbol
	// expansion, length capping) before synthesis; the Response reports the
	// text that was actually spoken.
	Text string

	// VoicePreset selects a provider-specific voice. "default" or empty
	// uses the provider's built-in voice.
	VoicePreset string

	// SessionID ties the synthesis to a pipeline turn for logging. Optional.
	SessionID string
}

// Response is the outcome of a synthesis job.
type Response struct {
	// AudioData holds mono float32 samples in [-1, 1] at SampleRate.
	AudioData []float32

	// SampleRate in Hz.
	SampleRate int

	// Duration is len(AudioData)/SampleRate in seconds.
	Duration float64

	// ProcessingTime is the wall-clock synthesis time in seconds.
	ProcessingTime float64

	// Text is the (possibly preprocessed) text that was synthesised.
	Text string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; multiple sessions may
// synthesise in parallel. When ctx is cancelled, Synthesize must return as
// quickly as possible.
type Provider interface {
	// Synthesize converts req.Text to speech and waits for the full audio.
	// Returns an error if the backend fails; the caller decides whether to
	// degrade (the gateway substitutes silence so the turn still completes).
	Synthesize(ctx context.Context, req Request) (*Response, error)
}
