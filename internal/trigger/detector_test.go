package trigger

import (
	"slices"
	"testing"
)

func TestEvaluateConfidenceLadder(t *testing.T) {
	tests := []struct {
		name           string
		text           string
		wantConfidence float64
		wantReason     string
		wantCapture    bool
	}{
		{
			name:           "explicit trigger",
			text:           "what do you see on my screen",
			wantConfidence: 0.9,
			wantReason:     ReasonExplicitTrigger,
			wantCapture:    true,
		},
		{
			name:           "context word with question",
			text:           "why is it throwing that weird bug",
			wantConfidence: 0.8,
			wantReason:     ReasonContextQuestion,
			wantCapture:    true,
		},
		{
			name:           "context phrase without question",
			text:           "it keeps crashing, total nonsense, everything broken",
			wantConfidence: 0.6,
			wantReason:     ReasonContextPhrase,
			wantCapture:    true,
		},
		{
			name:           "general question long enough",
			text:           "when was the treaty of westphalia signed exactly",
			wantConfidence: 0.5,
			wantReason:     ReasonGeneralQuestion,
			wantCapture:    false,
		},
		{
			name:           "short general question",
			text:           "when was that",
			wantConfidence: 0.0,
			wantReason:     ReasonNoTriggers,
			wantCapture:    false,
		},
		{
			name:           "no triggers at all",
			text:           "good morning friend",
			wantConfidence: 0.0,
			wantReason:     ReasonNoTriggers,
			wantCapture:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Evaluate(tt.text)
			if ev.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %v, want %v", ev.Confidence, tt.wantConfidence)
			}
			if ev.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", ev.Reason, tt.wantReason)
			}
			if ev.ShouldCapture != tt.wantCapture {
				t.Errorf("ShouldCapture = %v, want %v", ev.ShouldCapture, tt.wantCapture)
			}
		})
	}
}

func TestEvaluateMatches(t *testing.T) {
	ev := Evaluate("what do you see on my screen")

	if !slices.Contains(ev.TriggerMatches, "my screen") {
		t.Errorf("TriggerMatches = %v, want %q included", ev.TriggerMatches, "my screen")
	}
	if !slices.Contains(ev.TriggerMatches, "what do you see") {
		t.Errorf("TriggerMatches = %v, want %q included", ev.TriggerMatches, "what do you see")
	}
	if !slices.Contains(ev.QuestionMatches, "what") {
		t.Errorf("QuestionMatches = %v, want %q included", ev.QuestionMatches, "what")
	}
	if ev.TextLength != 7 {
		t.Errorf("TextLength = %d, want 7", ev.TextLength)
	}
}

func TestQuestionIndicatorPosition(t *testing.T) {
	// Prefix match.
	if ev := Evaluate("can you explain this message"); !slices.Contains(ev.QuestionMatches, "can you") {
		t.Errorf("prefix indicator missed: %v", ev.QuestionMatches)
	}
	// Whitespace-preceded occurrence mid-sentence.
	if ev := Evaluate("please tell me how it crashed"); !slices.Contains(ev.QuestionMatches, "how") {
		t.Errorf("mid-sentence indicator missed: %v", ev.QuestionMatches)
	}
	// An embedded substring without a preceding space does not count.
	if ev := Evaluate("showcase everything"); slices.Contains(ev.QuestionMatches, "how") {
		t.Errorf("embedded substring matched as question indicator: %v", ev.QuestionMatches)
	}
}

func TestDecideScreenShareGate(t *testing.T) {
	// With sharing off, even the strongest trigger is suppressed.
	ev := Decide("what do you see on my screen", false)
	if ev.ShouldCapture {
		t.Error("ShouldCapture = true with screen sharing off")
	}
	if ev.Reason != ReasonScreenShareOff {
		t.Errorf("Reason = %q, want %q", ev.Reason, ReasonScreenShareOff)
	}
	if ev.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", ev.Confidence)
	}

	// With sharing on, Decide is Evaluate.
	ev = Decide("what do you see on my screen", true)
	if !ev.ShouldCapture || ev.Reason != ReasonExplicitTrigger {
		t.Errorf("Decide with sharing on = %+v, want explicit trigger capture", ev)
	}
}
