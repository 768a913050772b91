// Package types defines the shared types used across all voxvista packages.
//
// These types form the lingua franca between the gateway, the speech
// accumulator, the providers, and the orchestrator. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

// VADHint is the client-supplied voice-activity verdict attached to every
// audio frame. The client runs its own detector; the server never second-
// guesses it, it only folds frames into speech sessions accordingly.
type VADHint struct {
	// IsSpeaking reports whether the client's detector classified the frame
	// as speech.
	IsSpeaking bool `json:"isSpeaking"`

	// Energy is the frame's signal energy on the client's own scale.
	// Optional; zero when the client does not report it.
	Energy float64 `json:"energy,omitempty"`

	// Confidence is the detector's confidence in IsSpeaking (0.0–1.0).
	// Optional; zero when the client does not report it.
	Confidence float64 `json:"confidence,omitempty"`
}

// AudioChunk is an immutable, completed utterance emitted by the speech
// accumulator and consumed exactly once by the STT provider. Samples are
// mono float32 in the range [-1, 1] at SampleRate, exactly as they arrived
// on the wire; resampling and normalization happen at transcription time.
type AudioChunk struct {
	// Data is the raw sample buffer for the whole utterance.
	Data []float32

	// SampleRate in Hz. 16000 for the standard client contract.
	SampleRate int

	// Timestamp is the utterance start in seconds since the Unix epoch,
	// taken from the first frame of the speech session.
	Timestamp float64

	// ChunkID uniquely identifies the utterance, e.g. "speech_session_3_1712345678901".
	ChunkID string
}

// Duration returns the utterance length in seconds.
func (c AudioChunk) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Data)) / float64(c.SampleRate)
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Images holds optional image attachments as data URLs
	// ("data:image/jpeg;base64,..."). Only vision-capable providers render
	// them; text-only providers must ignore the field. In practice only the
	// final user message of a multimodal turn carries images.
	Images []string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsVision indicates the model can process image inputs. The
	// orchestrator refuses to send screen captures to providers without it.
	SupportsVision bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// Role constants for Message.Role and conversation entries.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
