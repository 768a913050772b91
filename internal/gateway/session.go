package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/voxvista/voxvista/internal/speech"
)

// turnQueueSize bounds the per-session utterance backlog. A client talking
// faster than the pipeline drains gets utterances dropped with an error
// rather than unbounded buffering.
const turnQueueSize = 16

// pendingTurn is a transcript parked on the session awaiting a
// screen_capture_response. It is a state slot, not a blocked goroutine: a
// client that never answers simply leaves it to be discarded at disconnect.
type pendingTurn struct {
	text      string
	timestamp float64
}

// session is the per-connection state: the toggle flags, the speech
// accumulator, the deferred turn slot, and the ordered utterance queue.
//
// Control messages mutate state under mu and return immediately; utterance
// pipelines run on the session's single worker goroutine so results are
// delivered in the order speech sessions complete, while the read loop stays
// free for heartbeats.
type session struct {
	id   string
	conn *conn
	acc  *speech.Accumulator
	log  *slog.Logger

	turns chan func()
	done  chan struct{}

	mu               sync.Mutex
	screenShareOn    bool
	voiceAssistantOn bool
	pending          *pendingTurn
}

func newSession(c *conn, log *slog.Logger) *session {
	id := uuid.NewString()
	return &session{
		id:    id,
		conn:  c,
		acc:   speech.New(speech.WithLogger(log)),
		log:   log.With("session_id", id),
		turns: make(chan func(), turnQueueSize),
		done:  make(chan struct{}),
	}
}

// run executes queued utterance work in order until ctx ends.
func (s *session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.turns:
			fn()
		}
	}
}

// enqueue submits utterance work to the worker. Returns false when the
// backlog is full.
func (s *session) enqueue(fn func()) bool {
	select {
	case s.turns <- fn:
		return true
	default:
		return false
	}
}

func (s *session) setScreenShare(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenShareOn = on
}

func (s *session) screenShare() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenShareOn
}

func (s *session) setVoiceAssistant(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceAssistantOn = on
}

func (s *session) setPending(p *pendingTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = p
}

// takePending returns and clears the deferred turn, if any.
func (s *session) takePending() *pendingTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	s.pending = nil
	return p
}
