package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/voxvista/voxvista/internal/conversation"
	"github.com/voxvista/voxvista/internal/observe"
	"github.com/voxvista/voxvista/internal/orchestrator"
	"github.com/voxvista/voxvista/internal/perf"
	"github.com/voxvista/voxvista/internal/trigger"
	"github.com/voxvista/voxvista/pkg/audio"
	"github.com/voxvista/voxvista/pkg/provider/stt"
	"github.com/voxvista/voxvista/pkg/provider/tts"
	"github.com/voxvista/voxvista/pkg/types"
)

const (
	// defaultSampleRate is the wire contract for inbound audio.
	defaultSampleRate = 16000

	// silenceFallbackSeconds of silence stand in for failed synthesis so the
	// client's playback pipeline still cycles.
	silenceFallbackSeconds = 1.0
)

// Reasoner is the reasoning stage the gateway feeds completed transcripts
// into. Implemented by [orchestrator.Orchestrator].
type Reasoner interface {
	ProcessTurn(ctx context.Context, turn orchestrator.Turn) (*orchestrator.Reply, error)
}

// HandlerOption is a functional option for Handler.
type HandlerOption func(*Handler)

// WithStagePools bounds pipeline-stage concurrency across all sessions.
func WithStagePools(p *orchestrator.StagePools) HandlerOption {
	return func(h *Handler) { h.pools = p }
}

// WithMonitor attaches the performance monitor.
func WithMonitor(m *perf.Monitor) HandlerOption {
	return func(h *Handler) { h.monitor = m }
}

// WithMetrics replaces the OTel instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithConversationStore attaches the dialogue store so session history is
// cleared at disconnect.
func WithConversationStore(s *conversation.Store) HandlerOption {
	return func(h *Handler) { h.store = s }
}

// WithVoicePreset sets the synthesis voice. Default "default".
func WithVoicePreset(preset string) HandlerOption {
	return func(h *Handler) { h.voicePreset = preset }
}

// WithHandlerLogger sets the logger. Defaults to slog.Default().
func WithHandlerLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) { h.log = log }
}

// Handler implements the per-message protocol semantics over a session. One
// Handler serves all connections; all per-connection state lives on the
// session.
type Handler struct {
	stt      stt.Provider
	tts      tts.Provider
	reasoner Reasoner

	store       *conversation.Store
	monitor     *perf.Monitor
	metrics     *observe.Metrics
	pools       *orchestrator.StagePools
	log         *slog.Logger
	voicePreset string
}

// NewHandler creates a Handler over the pipeline providers.
func NewHandler(sttProvider stt.Provider, ttsProvider tts.Provider, reasoner Reasoner, opts ...HandlerOption) *Handler {
	h := &Handler{
		stt:         sttProvider,
		tts:         ttsProvider,
		reasoner:    reasoner,
		monitor:     perf.NewMonitor(),
		log:         slog.Default(),
		voicePreset: "default",
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// handleMessage dispatches one inbound message. Called from the read loop;
// anything slow is enqueued onto the session worker.
func (h *Handler) handleMessage(ctx context.Context, s *session, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Warn("unparseable inbound message", "error", err)
		s.conn.sendError(ctx, "Invalid JSON format")
		return
	}
	h.metrics.RecordMessageIn(ctx, msg.Type)

	switch msg.Type {
	case msgScreenShareStart:
		s.setScreenShare(true)
		_ = s.conn.send(ctx, msgScreenShareStarted, screenShareAck{
			Type:          msgScreenShareStarted,
			Message:       "Screen sharing session initiated",
			Timestamp:     epoch(),
			ScreenShareOn: true,
		})

	case msgScreenShareStop:
		s.setScreenShare(false)
		_ = s.conn.send(ctx, msgScreenShareStopped, screenShareAck{
			Type:          msgScreenShareStopped,
			Message:       "Screen sharing session ended",
			Timestamp:     epoch(),
			ScreenShareOn: false,
		})

	case msgVoiceAssistantStart:
		s.setVoiceAssistant(true)
		_ = s.conn.send(ctx, msgVoiceAssistantStarted, voiceAssistantAck{
			Type:      msgVoiceAssistantStarted,
			Message:   "Voice assistant activated",
			Timestamp: epoch(),
		})

	case msgVoiceAssistantStop:
		s.setVoiceAssistant(false)
		_ = s.conn.send(ctx, msgVoiceAssistantStopped, voiceAssistantAck{
			Type:      msgVoiceAssistantStopped,
			Message:   "Voice assistant deactivated",
			Timestamp: epoch(),
		})

	case msgAudioData, msgVADState:
		h.handleAudio(ctx, s, msg)

	case msgScreenCaptureResponse:
		h.handleCaptureResponse(ctx, s, msg)

	case msgHeartbeat:
		_ = s.conn.send(ctx, msgHeartbeatPong, heartbeatPong{
			Type:      msgHeartbeatPong,
			Timestamp: epoch(),
		})

	default:
		s.log.Warn("unknown message type", "type", msg.Type)
		s.conn.sendError(ctx, "Unknown message type: "+msg.Type)
	}
}

// handleAudio folds one audio_data or vad_state message into the speech
// accumulator. A vad_state message has no samples; it can complete a session
// but never starts one.
func (h *Handler) handleAudio(ctx context.Context, s *session, msg inboundMessage) {
	rate := msg.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}

	chunk := s.acc.Process(msg.Data, rate, msg.VAD, msg.Timestamp)
	if chunk == nil {
		if msg.VAD.IsSpeaking && len(msg.Data) > 0 {
			_ = s.conn.send(ctx, msgSpeechActive, speechActive{
				Type:      msgSpeechActive,
				Message:   "Speech detected, accumulating audio...",
				Timestamp: epoch(),
				VAD:       msg.VAD,
			})
		}
		return
	}

	screenImage := msg.ScreenImage
	completed := *chunk
	if !s.enqueue(func() { h.runUtterance(ctx, s, completed, screenImage) }) {
		s.log.Warn("utterance backlog full, dropping completed speech session",
			"chunk_id", completed.ChunkID)
		s.conn.sendError(ctx, "Audio processing error: server busy")
	}
}

// runUtterance is the full pipeline for one completed speech session:
// transcribe, trigger-check, reason, synthesise. Runs on the session worker.
func (h *Handler) runUtterance(ctx context.Context, s *session, chunk types.AudioChunk, screenImage string) {
	start := time.Now()

	stop := h.monitor.Start(perf.ServiceSTT, "transcribe_chunk")
	sttCtx, span := observe.StartStageSpan(ctx, "stt")
	var (
		result *stt.Result
		err    error
	)
	h.runStage(h.sttSubmit(), func() {
		result, err = h.stt.Transcribe(sttCtx, chunk)
	})
	observe.EndSpan(span, err)
	stop(err == nil)
	h.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		s.log.Error("transcription failed", "chunk_id", chunk.ChunkID, "error", err)
		s.conn.sendError(ctx, "Audio processing error: "+err.Error())
		return
	}
	if result.Text == "" {
		s.log.Debug("empty transcription", "chunk_id", chunk.ChunkID)
		return
	}

	if err := s.conn.send(ctx, msgTranscriptionResult, transcriptionResult{
		Type:           msgTranscriptionResult,
		Text:           result.Text,
		Timestamp:      result.Timestamp,
		ProcessingTime: result.ProcessingTime,
		Confidence:     result.Confidence,
	}); err != nil {
		return
	}

	ok := h.continueTurn(ctx, s, result.Text, result.Timestamp, screenImage)

	elapsed := time.Since(start).Seconds()
	h.monitor.Record(perf.ServicePipeline, "utterance", elapsed, ok, nil)
	h.metrics.PipelineDuration.Record(ctx, elapsed)
}

// continueTurn routes a transcript: straight to reasoning when a capture is
// already attached, deferred behind a screen_capture_request when the trigger
// detector fires, otherwise reasoning without screen context. Reports whether
// the turn completed (a deferral counts as complete; it resumes later).
func (h *Handler) continueTurn(ctx context.Context, s *session, text string, timestamp float64, screenImage string) bool {
	if screenImage == "" {
		ev := trigger.Decide(text, s.screenShare())
		if ev.ShouldCapture {
			s.setPending(&pendingTurn{text: text, timestamp: timestamp})
			s.log.Info("deferring turn for screen capture",
				"reason", ev.Reason, "confidence", ev.Confidence)
			_ = s.conn.send(ctx, msgScreenCaptureRequest, screenCaptureRequest{
				Type:              msgScreenCaptureRequest,
				Confidence:        ev.Confidence,
				Reason:            ev.Reason,
				TriggerMatches:    ev.TriggerMatches,
				ContextMatches:    ev.ContextMatches,
				Timestamp:         epoch(),
				OriginalText:      text,
				OriginalTimestamp: timestamp,
			})
			return true
		}
	}
	return h.respond(ctx, s, text, timestamp, screenImage)
}

// handleCaptureResponse resumes a deferred turn with the delivered capture.
func (h *Handler) handleCaptureResponse(ctx context.Context, s *session, msg inboundMessage) {
	pending := s.takePending()

	text := msg.OriginalText
	timestamp := msg.RequestData.OriginalTimestamp
	if text == "" && pending != nil {
		text = pending.text
	}
	if timestamp == 0 {
		if pending != nil {
			timestamp = pending.timestamp
		} else {
			timestamp = msg.Timestamp
		}
	}

	if msg.ScreenImage == "" || text == "" {
		s.log.Warn("invalid screen capture response",
			"has_image", msg.ScreenImage != "", "original_text", text)
		return
	}

	screenImage := msg.ScreenImage
	resume := func() { h.respond(ctx, s, text, timestamp, screenImage) }
	if !s.enqueue(resume) {
		s.log.Warn("utterance backlog full, dropping resumed turn")
		s.conn.sendError(ctx, "AI processing error: server busy")
	}
}

// respond runs the reasoning and synthesis stages and delivers ai_response
// then audio_response. Reports whether both were sent.
func (h *Handler) respond(ctx context.Context, s *session, text string, timestamp float64, screenImage string) bool {
	start := time.Now()
	llmCtx, span := observe.StartStageSpan(ctx, "multimodal")
	var (
		reply *orchestrator.Reply
		err   error
	)
	h.runStage(h.llmSubmit(), func() {
		reply, err = h.reasoner.ProcessTurn(llmCtx, orchestrator.Turn{
			SessionID:     s.id,
			Transcript:    text,
			ScreenCapture: screenImage,
		})
	})
	observe.EndSpan(span, err)
	h.metrics.MultimodalDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		s.log.Error("reasoning failed", "error", err)
		s.conn.sendError(ctx, "AI processing error: "+err.Error())
		return false
	}

	resp := aiResponse{
		Type:           msgAIResponse,
		Text:           reply.Text,
		Timestamp:      timestamp,
		ProcessingTime: reply.ProcessingTime,
		SessionID:      s.id,
	}
	if reply.ScreenAnalysis != "" {
		resp.ScreenContext = &screenContext{HasScreenContext: true, Analysis: reply.ScreenAnalysis}
	}
	if err := s.conn.send(ctx, msgAIResponse, resp); err != nil {
		return false
	}

	return h.speak(ctx, s, reply.Text)
}

// speak synthesises the reply. A synthesis failure degrades to an error
// message plus one second of silence so the turn still completes audibly.
func (h *Handler) speak(ctx context.Context, s *session, text string) bool {
	start := time.Now()
	stop := h.monitor.Start(perf.ServiceTTS, "synthesize_speech")
	ttsCtx, span := observe.StartStageSpan(ctx, "tts")
	var (
		resp *tts.Response
		err  error
	)
	h.runStage(h.ttsSubmit(), func() {
		resp, err = h.tts.Synthesize(ttsCtx, tts.Request{
			Text:        text,
			VoicePreset: h.voicePreset,
			SessionID:   s.id,
		})
	})
	observe.EndSpan(span, err)
	stop(err == nil)
	h.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		s.log.Error("synthesis failed", "error", err)
		h.metrics.RecordProviderError(ctx, "tts", "synthesize")
		s.conn.sendError(ctx, "TTS processing error: "+err.Error())
		resp = &tts.Response{
			AudioData:  audio.Silence(silenceFallbackSeconds, defaultSampleRate),
			SampleRate: defaultSampleRate,
			Duration:   silenceFallbackSeconds,
			Text:       text,
		}
	}

	return s.conn.send(ctx, msgAudioResponse, audioResponse{
		Type:           msgAudioResponse,
		AudioData:      resp.AudioData,
		SampleRate:     resp.SampleRate,
		Duration:       resp.Duration,
		ProcessingTime: resp.ProcessingTime,
		Text:           resp.Text,
		Timestamp:      epoch(),
		SessionID:      s.id,
	}) == nil
}

// ── Stage submission ──

// runStage executes fn through the given pool submitter and waits for it,
// bounding cross-session concurrency per stage. A nil submitter runs inline.
func (h *Handler) runStage(submit func(func() error), fn func()) {
	if submit == nil {
		fn()
		return
	}
	done := make(chan struct{})
	submit(func() error {
		defer close(done)
		fn()
		return nil
	})
	<-done
}

func (h *Handler) sttSubmit() func(func() error) {
	if h.pools == nil {
		return nil
	}
	return h.pools.GoSTT
}

func (h *Handler) llmSubmit() func(func() error) {
	if h.pools == nil {
		return nil
	}
	return h.pools.GoLLM
}

func (h *Handler) ttsSubmit() func(func() error) {
	if h.pools == nil {
		return nil
	}
	return h.pools.GoTTS
}
