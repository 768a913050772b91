// Package trigger decides whether a transcript warrants a fresh screen
// capture before the reasoning stage.
//
// The heuristic is purely lexical: three disjoint feature sets over the
// lowercased transcript map to a fixed confidence ladder. A capture is
// requested only when the session is screen-sharing and the confidence clears
// the threshold — with screen sharing off, no transcript triggers anything.
package trigger

import "strings"

// CaptureThreshold is the minimum confidence that defers a turn for a capture.
const CaptureThreshold = 0.6

// Evaluation reasons, ordered by descending confidence.
const (
	ReasonExplicitTrigger = "explicit_trigger"
	ReasonContextQuestion = "context_question"
	ReasonContextPhrase   = "context_phrase"
	ReasonGeneralQuestion = "general_question"
	ReasonNoTriggers      = "no_triggers"
	ReasonScreenShareOff  = "screen_share_off"
)

// explicitTriggers directly reference the screen or its content.
var explicitTriggers = []string{
	"screen",
	"display",
	"see",
	"look",
	"show",
	"what's on",
	"what is on",
	"current page",
	"this page",
	"this screen",
	"my screen",
	"the screen",
	"what am i",
	"where am i",
	"help with this",
	"help me with this",
	"what do you see",
	"can you see",
	"describe",
	"read this",
}

// contextWords suggest the user needs help with what is in front of them.
var contextWords = []string{
	"error",
	"issue",
	"problem",
	"bug",
	"broken",
	"not working",
	"help",
	"stuck",
	"confused",
	"understand",
	"explain",
	"debug",
	"fix",
}

// questionIndicators often pair with screen context.
var questionIndicators = []string{
	"what",
	"how",
	"where",
	"why",
	"which",
	"when",
	"can you",
	"could you",
	"would you",
	"should i",
	"do i",
	"am i",
	"is this",
}

// Evaluation is the detector's verdict for one transcript.
type Evaluation struct {
	// ShouldCapture reports whether the turn should defer for a capture.
	ShouldCapture bool `json:"should_capture"`

	// Confidence is one rung of the fixed ladder: 0.9, 0.8, 0.6, 0.5 or 0.0.
	Confidence float64 `json:"confidence"`

	// Reason names the rung that fired.
	Reason string `json:"reason"`

	// TriggerMatches are the explicit triggers found in the transcript.
	TriggerMatches []string `json:"trigger_matches"`

	// ContextMatches are the context words found in the transcript.
	ContextMatches []string `json:"context_matches"`

	// QuestionMatches are the question indicators found in the transcript.
	QuestionMatches []string `json:"question_matches"`

	// TextLength is the transcript's whitespace token count.
	TextLength int `json:"text_length"`
}

// Evaluate scores a transcript against the trigger lexicons. It ignores
// session state; see [Decide] for the screen-share gate.
func Evaluate(text string) Evaluation {
	lower := strings.ToLower(text)
	tokens := len(strings.Fields(lower))

	ev := Evaluation{
		Reason:     ReasonNoTriggers,
		TextLength: tokens,
	}

	for _, t := range explicitTriggers {
		if strings.Contains(lower, t) {
			ev.TriggerMatches = append(ev.TriggerMatches, t)
		}
	}
	for _, w := range contextWords {
		if strings.Contains(lower, w) {
			ev.ContextMatches = append(ev.ContextMatches, w)
		}
	}
	for _, q := range questionIndicators {
		// A question indicator counts at the start of the transcript or as a
		// whitespace-preceded occurrence anywhere in it.
		if strings.HasPrefix(lower, q) || strings.Contains(lower, " "+q) {
			ev.QuestionMatches = append(ev.QuestionMatches, q)
		}
	}

	switch {
	case len(ev.TriggerMatches) > 0:
		ev.Confidence = 0.9
		ev.Reason = ReasonExplicitTrigger
	case len(ev.ContextMatches) > 0 && len(ev.QuestionMatches) > 0:
		ev.Confidence = 0.8
		ev.Reason = ReasonContextQuestion
	case len(ev.ContextMatches) > 0 && tokens > 3:
		ev.Confidence = 0.6
		ev.Reason = ReasonContextPhrase
	case len(ev.QuestionMatches) > 0 && tokens > 4:
		ev.Confidence = 0.5
		ev.Reason = ReasonGeneralQuestion
	}

	ev.ShouldCapture = ev.Confidence >= CaptureThreshold
	return ev
}

// Decide applies the screen-share gate: with sharing off the transcript is
// never evaluated and the verdict carries the screen_share_off reason.
func Decide(text string, screenShareOn bool) Evaluation {
	if !screenShareOn {
		return Evaluation{Reason: ReasonScreenShareOff}
	}
	return Evaluate(text)
}
