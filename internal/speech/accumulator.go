// Package speech folds VAD-tagged audio frames into discrete utterances.
//
// The client streams small frames with a voice-activity verdict attached; the
// accumulator opens a speech session on the first speaking frame, keeps
// appending until the voice stops, the session hits the maximum duration, or
// the inter-frame gap exceeds the silence threshold, and then emits the whole
// burst as one immutable [types.AudioChunk]. Bursts shorter than the minimum
// duration are discarded so breathing noise never reaches the STT provider.
//
// Samples are kept raw: resampling and normalization happen at transcription
// time, not here.
package speech

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxvista/voxvista/pkg/types"
)

// Session boundary defaults.
const (
	DefaultMaxDuration = 30 * time.Second
	DefaultMinDuration = 500 * time.Millisecond
	DefaultGap         = 2 * time.Second
)

// Option is a functional option for Accumulator.
type Option func(*Accumulator)

// WithMaxDuration sets the forced-completion ceiling. Default 30s.
func WithMaxDuration(d time.Duration) Option {
	return func(a *Accumulator) { a.maxDuration = d.Seconds() }
}

// WithMinDuration sets the discard threshold. Default 500ms.
func WithMinDuration(d time.Duration) Option {
	return func(a *Accumulator) { a.minDuration = d.Seconds() }
}

// WithGap sets the inter-frame silence threshold. A gap strictly greater than
// this completes the session. Default 2s.
func WithGap(d time.Duration) Option {
	return func(a *Accumulator) { a.gap = d.Seconds() }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *Accumulator) { a.log = log }
}

// session is one in-progress speaking burst.
type session struct {
	id             string
	startTimestamp float64
	lastAudio      float64
	buffer         []float32
	sampleRate     int
}

func (s *session) duration() float64 {
	if s.sampleRate <= 0 {
		return 0
	}
	return float64(len(s.buffer)) / float64(s.sampleRate)
}

// Accumulator turns a stream of VAD-tagged frames into bounded utterances.
// One instance serves one connection; at most one session is active at a time.
// Safe for concurrent use.
type Accumulator struct {
	maxDuration float64
	minDuration float64
	gap         float64
	log         *slog.Logger

	mu      sync.Mutex
	active  *session
	counter int64
}

// New creates an Accumulator with the standard session boundaries.
func New(opts ...Option) *Accumulator {
	a := &Accumulator{
		maxDuration: DefaultMaxDuration.Seconds(),
		minDuration: DefaultMinDuration.Seconds(),
		gap:         DefaultGap.Seconds(),
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Process folds one frame into the current session. samples may be empty for
// state-only updates (a vad_state message); such an update can complete a
// session but never starts one. timestamp is seconds since the Unix epoch.
//
// Returns the completed utterance, or nil when the session is still open, was
// discarded as too short, or no session exists.
func (a *Accumulator) Process(samples []float32, sampleRate int, vad types.VADHint, timestamp float64) *types.AudioChunk {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil {
		if !vad.IsSpeaking || len(samples) == 0 {
			return nil
		}
		a.counter++
		a.active = &session{
			id:             fmt.Sprintf("%d_%d", a.counter, int64(timestamp*1000)),
			startTimestamp: timestamp,
			lastAudio:      timestamp,
			buffer:         append([]float32(nil), samples...),
			sampleRate:     sampleRate,
		}
		a.log.Debug("speech session started", "session_id", a.active.id)
		return nil
	}

	// Gap is measured against the previous frame's arrival, before this
	// frame's samples move the marker.
	gap := timestamp - a.active.lastAudio

	if len(samples) > 0 {
		a.active.buffer = append(a.active.buffer, samples...)
		a.active.lastAudio = timestamp
	}

	// The explicit not-speaking signal wins over the gap heuristic.
	switch {
	case !vad.IsSpeaking:
		return a.completeLocked("vad_stop")
	case a.active.duration() >= a.maxDuration:
		return a.completeLocked("max_duration")
	case gap > a.gap:
		return a.completeLocked("gap")
	}
	return nil
}

// Flush completes the current session unconditionally, subject to the same
// minimum-duration discard rule. Returns nil when no session is active.
func (a *Accumulator) Flush() *types.AudioChunk {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return nil
	}
	return a.completeLocked("flush")
}

// Active reports whether a speech session is currently accumulating.
func (a *Accumulator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active != nil
}

// completeLocked closes the active session and emits it as a chunk when it
// clears the minimum duration. Caller holds a.mu.
func (a *Accumulator) completeLocked(reason string) *types.AudioChunk {
	s := a.active
	a.active = nil

	duration := s.duration()
	if duration < a.minDuration {
		a.log.Debug("speech session discarded",
			"session_id", s.id, "duration", duration, "reason", reason)
		return nil
	}

	a.log.Info("speech session completed",
		"session_id", s.id, "duration", duration, "reason", reason)
	return &types.AudioChunk{
		Data:       s.buffer,
		SampleRate: s.sampleRate,
		Timestamp:  s.startTimestamp,
		ChunkID:    "speech_session_" + s.id,
	}
}
