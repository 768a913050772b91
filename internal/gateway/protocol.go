// Package gateway is the client-facing edge of the pipeline: a WebSocket
// duplex channel carrying JSON messages. Inbound messages toggle session
// state, stream VAD-tagged audio, and answer screen-capture requests;
// outbound messages deliver transcripts, assistant text, synthesized audio,
// and control acknowledgements.
//
// Every message is a JSON object with a "type" tag and a "timestamp" in
// float seconds since the Unix epoch.
package gateway

import (
	"time"

	"github.com/voxvista/voxvista/pkg/types"
)

// Inbound message types.
const (
	msgScreenShareStart      = "screen_share_start"
	msgScreenShareStop       = "screen_share_stop"
	msgVoiceAssistantStart   = "voice_assistant_start"
	msgVoiceAssistantStop    = "voice_assistant_stop"
	msgAudioData             = "audio_data"
	msgVADState              = "vad_state"
	msgScreenCaptureResponse = "screen_capture_response"
	msgHeartbeat             = "heartbeat"
)

// Outbound message types.
const (
	msgScreenShareStarted    = "screen_share_started"
	msgScreenShareStopped    = "screen_share_stopped"
	msgVoiceAssistantStarted = "voice_assistant_started"
	msgVoiceAssistantStopped = "voice_assistant_stopped"
	msgTranscriptionResult   = "transcription_result"
	msgSpeechActive          = "speech_active"
	msgScreenCaptureRequest  = "screen_capture_request"
	msgAIResponse            = "ai_response"
	msgAudioResponse         = "audio_response"
	msgHeartbeatPong         = "heartbeat_pong"
	msgError                 = "error"
)

// epoch returns the current time as float seconds since the Unix epoch, the
// timestamp representation of the wire protocol.
func epoch() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// inboundMessage is the decoded superset envelope for every inbound type;
// each handler reads the fields its type defines.
type inboundMessage struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`

	// audio_data fields. SampleRate defaults to 16000; VAD rides along on
	// vad_state messages too.
	Data       []float32     `json:"data"`
	SampleRate int           `json:"sample_rate"`
	VAD        types.VADHint `json:"vad"`

	// Optional capture attached to audio_data, and the payload of
	// screen_capture_response.
	ScreenImage string `json:"screen_image"`

	// screen_capture_response fields echoing the deferred turn.
	OriginalText string      `json:"original_text"`
	RequestData  requestData `json:"request_data"`
}

type requestData struct {
	OriginalTimestamp float64 `json:"original_timestamp"`
}

// screenShareAck acknowledges screen_share_start/_stop.
type screenShareAck struct {
	Type          string  `json:"type"`
	Message       string  `json:"message"`
	Timestamp     float64 `json:"timestamp"`
	ScreenShareOn bool    `json:"screen_share_on"`
}

// voiceAssistantAck acknowledges voice_assistant_start/_stop.
type voiceAssistantAck struct {
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

// transcriptionResult delivers one recognised utterance.
type transcriptionResult struct {
	Type           string  `json:"type"`
	Text           string  `json:"text"`
	Timestamp      float64 `json:"timestamp"`
	ProcessingTime float64 `json:"processing_time"`
	Confidence     float64 `json:"confidence"`
}

// speechActive is optional partial feedback while a speech session
// accumulates.
type speechActive struct {
	Type      string        `json:"type"`
	Message   string        `json:"message"`
	Timestamp float64       `json:"timestamp"`
	VAD       types.VADHint `json:"vad"`
}

// screenCaptureRequest asks the client for a fresh capture before the
// deferred turn proceeds.
type screenCaptureRequest struct {
	Type              string   `json:"type"`
	Confidence        float64  `json:"confidence"`
	Reason            string   `json:"reason"`
	TriggerMatches    []string `json:"trigger_matches"`
	ContextMatches    []string `json:"context_matches"`
	Timestamp         float64  `json:"timestamp"`
	OriginalText      string   `json:"original_text"`
	OriginalTimestamp float64  `json:"original_timestamp"`
}

// screenContext rides on an aiResponse when the turn analysed a capture.
type screenContext struct {
	HasScreenContext bool   `json:"has_screen_context"`
	Analysis         string `json:"analysis"`
}

// aiResponse delivers the assistant's text for one utterance.
type aiResponse struct {
	Type           string         `json:"type"`
	Text           string         `json:"text"`
	Timestamp      float64        `json:"timestamp"`
	ProcessingTime float64        `json:"processing_time"`
	SessionID      string         `json:"session_id"`
	ScreenContext  *screenContext `json:"screen_context,omitempty"`
}

// audioResponse delivers the synthesized speech for one aiResponse.
type audioResponse struct {
	Type           string    `json:"type"`
	AudioData      []float32 `json:"audio_data"`
	SampleRate     int       `json:"sample_rate"`
	Duration       float64   `json:"duration"`
	ProcessingTime float64   `json:"processing_time"`
	Text           string    `json:"text"`
	Timestamp      float64   `json:"timestamp"`
	SessionID      string    `json:"session_id"`
}

// heartbeatPong answers a heartbeat.
type heartbeatPong struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// errorMessage reports a recoverable failure; the connection stays open.
type errorMessage struct {
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}
