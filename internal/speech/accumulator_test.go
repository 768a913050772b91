package speech

import (
	"strings"
	"testing"

	"github.com/voxvista/voxvista/pkg/types"
)

const rate = 16000

// frame returns seconds worth of samples at the test rate.
func frame(seconds float64) []float32 {
	return make([]float32, int(seconds*rate))
}

func speaking() types.VADHint { return types.VADHint{IsSpeaking: true} }
func silent() types.VADHint   { return types.VADHint{IsSpeaking: false} }

func TestSilenceNeverAccumulates(t *testing.T) {
	a := New()

	ts := 1000.0
	for i := 0; i < 20; i++ {
		if chunk := a.Process(make([]float32, 100), rate, silent(), ts); chunk != nil {
			t.Fatalf("frame %d: got chunk %v for silence", i, chunk.ChunkID)
		}
		ts += 0.1
	}
	if a.Active() {
		t.Error("Active() = true after pure silence")
	}
}

func TestShortBurstDiscarded(t *testing.T) {
	a := New()

	if chunk := a.Process(frame(0.3), rate, speaking(), 1000.0); chunk != nil {
		t.Fatalf("got chunk mid-session: %v", chunk.ChunkID)
	}
	// State-only stop: 0.3s is under the 0.5s minimum.
	if chunk := a.Process(nil, rate, silent(), 1000.3); chunk != nil {
		t.Errorf("got chunk %v for a 0.3s burst, want discard", chunk.ChunkID)
	}
	if a.Active() {
		t.Error("Active() = true after discard")
	}
}

func TestNormalBurstCompletes(t *testing.T) {
	a := New()

	a.Process(frame(0.5), rate, speaking(), 1000.0)
	a.Process(frame(0.5), rate, speaking(), 1000.5)
	chunk := a.Process(nil, rate, silent(), 1001.0)
	if chunk == nil {
		t.Fatal("got nil, want completed chunk")
	}

	if !strings.HasPrefix(chunk.ChunkID, "speech_session_1_") {
		t.Errorf("ChunkID = %q, want speech_session_1_<millis> prefix", chunk.ChunkID)
	}
	if chunk.Timestamp != 1000.0 {
		t.Errorf("Timestamp = %v, want session start 1000.0", chunk.Timestamp)
	}
	if got := chunk.Duration(); got != 1.0 {
		t.Errorf("Duration = %v, want 1.0", got)
	}
	if chunk.SampleRate != rate {
		t.Errorf("SampleRate = %d, want %d", chunk.SampleRate, rate)
	}
}

func TestMinDurationBoundary(t *testing.T) {
	a := New()

	// Exactly the minimum is kept.
	a.Process(frame(0.5), rate, speaking(), 1000.0)
	if chunk := a.Process(nil, rate, silent(), 1000.5); chunk == nil {
		t.Error("got nil for an exactly-0.5s burst, want chunk")
	}
}

func TestMaxDurationForcesCompletion(t *testing.T) {
	a := New()

	ts := 1000.0
	var chunk *types.AudioChunk
	frames := 0
	// Keep speaking; the accumulator must cut the session at 30s on its own.
	for chunk == nil && frames < 40 {
		chunk = a.Process(frame(1.0), rate, speaking(), ts)
		ts++
		frames++
	}

	if chunk == nil {
		t.Fatal("session never completed while speaking continuously")
	}
	if got := chunk.Duration(); got != 30.0 {
		t.Errorf("Duration = %v, want forced completion at 30.0", got)
	}
	if a.Active() {
		t.Error("Active() = true after forced completion")
	}
}

func TestGapBoundary(t *testing.T) {
	t.Run("exactly 2s does not complete", func(t *testing.T) {
		a := New()
		a.Process(frame(1.0), rate, speaking(), 1000.0)
		if chunk := a.Process(frame(0.1), rate, speaking(), 1002.0); chunk != nil {
			t.Errorf("got chunk %v for an exactly-2s gap, want session to continue", chunk.ChunkID)
		}
		if !a.Active() {
			t.Error("Active() = false, want session still open")
		}
	})

	t.Run("over 2s completes", func(t *testing.T) {
		a := New()
		a.Process(frame(1.0), rate, speaking(), 1000.0)
		chunk := a.Process(frame(0.1), rate, speaking(), 1002.001)
		if chunk == nil {
			t.Fatal("got nil for a >2s gap, want completed chunk")
		}
		if chunk.Timestamp != 1000.0 {
			t.Errorf("Timestamp = %v, want 1000.0", chunk.Timestamp)
		}
	})
}

func TestStateOnlyUpdateCompletes(t *testing.T) {
	a := New()

	a.Process(frame(1.0), rate, speaking(), 1000.0)
	// vad_state carries no samples but must still close the session.
	chunk := a.Process(nil, rate, silent(), 1001.0)
	if chunk == nil {
		t.Fatal("state-only update did not complete the session")
	}
	if got := chunk.Duration(); got != 1.0 {
		t.Errorf("Duration = %v, want 1.0", got)
	}
}

func TestStateOnlyUpdateNeverStarts(t *testing.T) {
	a := New()

	if chunk := a.Process(nil, rate, speaking(), 1000.0); chunk != nil {
		t.Errorf("got chunk %v, want nil", chunk.ChunkID)
	}
	if a.Active() {
		t.Error("Active() = true after a sample-less speaking hint")
	}
}

func TestFlush(t *testing.T) {
	a := New()

	if chunk := a.Flush(); chunk != nil {
		t.Errorf("Flush with no session = %v, want nil", chunk.ChunkID)
	}

	a.Process(frame(1.0), rate, speaking(), 1000.0)
	chunk := a.Flush()
	if chunk == nil {
		t.Fatal("Flush = nil, want the open session")
	}
	if a.Active() {
		t.Error("Active() = true after Flush")
	}

	// Flush still applies the minimum-duration rule.
	a.Process(frame(0.2), rate, speaking(), 2000.0)
	if chunk := a.Flush(); chunk != nil {
		t.Errorf("Flush of a 0.2s burst = %v, want discard", chunk.ChunkID)
	}
}

func TestSessionIDsIncrement(t *testing.T) {
	a := New()

	a.Process(frame(1.0), rate, speaking(), 1000.0)
	first := a.Process(nil, rate, silent(), 1001.0)
	a.Process(frame(1.0), rate, speaking(), 2000.0)
	second := a.Process(nil, rate, silent(), 2001.0)

	if first == nil || second == nil {
		t.Fatal("expected two completed chunks")
	}
	if !strings.HasPrefix(first.ChunkID, "speech_session_1_") {
		t.Errorf("first ChunkID = %q", first.ChunkID)
	}
	if !strings.HasPrefix(second.ChunkID, "speech_session_2_") {
		t.Errorf("second ChunkID = %q", second.ChunkID)
	}
}
