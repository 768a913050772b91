package bark

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxvista/voxvista/pkg/audio"
	"github.com/voxvista/voxvista/pkg/provider/tts"
)

func TestPreprocessText(t *testing.T) {
	long := strings.Repeat("This is a filler sentence to pad the prompt out. ", 15)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "symbols spelled out",
			in:   "Sales are up 20% & costs are down",
			want: "Sales are up 20 percent and costs are down",
		},
		{
			name: "urls stripped",
			in:   "Check https://example.com/docs for details",
			want: "Check for details",
		},
		{
			name: "www url stripped",
			in:   "Visit www.example.com today",
			want: "Visit today",
		},
		{
			name: "whitespace collapsed",
			in:   "hello   there \n friend",
			want: "hello there friend",
		},
		{
			name: "long text cut to three sentences",
			in:   "First one. Second one! Third one? Fourth one. " + long,
			want: "First one. Second one! Third one?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PreprocessText(tt.in); got != tt.want {
				t.Errorf("PreprocessText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSynthesizeWAVResponse(t *testing.T) {
	// One second of a soft ramp at 16 kHz; the provider resamples to 24 kHz.
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = 0.25
	}
	wav := audio.WAV(audio.ToPCM16(samples), 16000)

	var gotReq synthesisRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wav)
	}))
	defer srv.Close()

	p, err := New(srv.URL, "key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Synthesize(context.Background(), tts.Request{Text: "hello there"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if gotReq.Inputs != "hello there" {
		t.Errorf("request inputs = %q, want %q", gotReq.Inputs, "hello there")
	}
	if gotReq.VoicePreset != defaultVoicePreset {
		t.Errorf("request voice preset = %q, want %q", gotReq.VoicePreset, defaultVoicePreset)
	}
	if resp.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want 24000", resp.SampleRate)
	}
	if resp.Duration < 0.9 || resp.Duration > 1.1 {
		t.Errorf("Duration = %v, want ~1s", resp.Duration)
	}

	// Peak-normalised to 0.8.
	var maxAbs float32
	for _, s := range resp.AudioData {
		if s < 0 {
			s = -s
		}
		if s > maxAbs {
			maxAbs = s
		}
	}
	if maxAbs < 0.79 || maxAbs > 0.81 {
		t.Errorf("peak = %v, want ~0.8", maxAbs)
	}
}

func TestSynthesizeJSONArrayResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[0.1, 0.2, -0.1, 0.05]`))
	}))
	defer srv.Close()

	p, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(resp.AudioData) != 4 {
		t.Errorf("len(AudioData) = %d, want 4", len(resp.AudioData))
	}
	if resp.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want 24000", resp.SampleRate)
	}
}

func TestSynthesizeExplicitVoicePreset(t *testing.T) {
	var gotReq synthesisRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)
		w.Write([]byte(`[0.1]`))
	}))
	defer srv.Close()

	p, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi", VoicePreset: "v2/en_speaker_1"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotReq.VoicePreset != "v2/en_speaker_1" {
		t.Errorf("voice preset = %q, want %q", gotReq.VoicePreset, "v2/en_speaker_1")
	}
}

func TestSynthesizeBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Error("Synthesize succeeded, want error on 500")
	}
}

func TestSynthesizeEmptyAfterPreprocess(t *testing.T) {
	p, err := New("http://unused.invalid", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "https://example.com"}); err == nil {
		t.Error("Synthesize succeeded, want error for text that preprocesses to empty")
	}
}
