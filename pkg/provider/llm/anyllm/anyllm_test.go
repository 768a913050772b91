package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxvista/voxvista/pkg/provider/llm"
	"github.com/voxvista/voxvista/pkg/types"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "llama3.1"); err == nil {
		t.Error("New accepted an empty provider name")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("New accepted an empty model")
	}
}

func TestNew_UnsupportedBackend(t *testing.T) {
	_, err := New("carrier-pigeon", "v1")
	if err == nil {
		t.Fatal("New accepted an unsupported backend")
	}
	if !strings.Contains(err.Error(), "unsupported provider") {
		t.Errorf("error = %v, want mention of unsupported provider", err)
	}
}

func TestCreateBackend_KnownNames(t *testing.T) {
	for _, name := range []string{"openai", "anthropic", "gemini", "ollama", "mistral", "OpenAI"} {
		t.Run(name, func(t *testing.T) {
			backend, err := createBackend(name, anyllmlib.WithAPIKey("test-key"))
			if err != nil {
				t.Fatalf("createBackend(%q): %v", name, err)
			}
			if backend == nil {
				t.Fatalf("createBackend(%q) returned nil backend", name)
			}
		})
	}
}

func TestCapabilities_NeverAdvertisesVision(t *testing.T) {
	// Attachments are dropped by buildParams, so vision must read false even
	// for models that could handle images natively.
	for _, model := range []string{"gpt-4o", "gemini-2.0-flash", "claude-sonnet-4", "llama3.1"} {
		p := &Provider{model: model}
		if p.Capabilities().SupportsVision {
			t.Errorf("model %q advertises vision", model)
		}
	}
}

func TestCapabilities_ModelFamilies(t *testing.T) {
	tests := []struct {
		model         string
		wantContext   int
		wantMaxOutput int
	}{
		{"claude-sonnet-4", 200_000, 8_192},
		{"gemini-2.0-flash", 1_048_576, 8_192},
		{"gpt-4o-mini", 128_000, 16_384},
		{"llama3.1", 128_000, 4_096},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := (&Provider{model: tt.model}).Capabilities()
			if caps.ContextWindow != tt.wantContext {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.wantContext)
			}
			if caps.MaxOutputTokens != tt.wantMaxOutput {
				t.Errorf("MaxOutputTokens = %d, want %d", caps.MaxOutputTokens, tt.wantMaxOutput)
			}
		})
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "llama3.1"}
	req := llm.CompletionRequest{
		SystemPrompt: "Be brief.",
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "Hello!"},
			{Role: types.RoleAssistant, Content: "Hi."},
			{Role: types.RoleUser, Content: "Again", Images: []string{"data:image/jpeg;base64,AAAA"}},
		},
		Temperature: 0.4,
		MaxTokens:   256,
	}
	params := p.buildParams(req)

	if params.Model != "llama3.1" {
		t.Errorf("model = %q, want llama3.1", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("messages = %d, want 4 (system + 3)", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].Content != "Be brief." {
		t.Errorf("first message = %+v, want the system prompt", params.Messages[0])
	}
	// Image attachments are dropped; only the text survives.
	if params.Messages[3].Content != "Again" {
		t.Errorf("last message content = %q, want text only", params.Messages[3].Content)
	}
	if params.Temperature == nil || *params.Temperature != 0.4 {
		t.Errorf("temperature = %v, want 0.4", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("max_tokens = %v, want 256", params.MaxTokens)
	}
}

func TestBuildParams_ZeroSamplingLeftUnset(t *testing.T) {
	p := &Provider{model: "llama3.1"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "Hi"}},
	})
	if params.Temperature != nil {
		t.Error("temperature set for a zero-valued request")
	}
	if params.MaxTokens != nil {
		t.Error("max_tokens set for a zero-valued request")
	}
}
