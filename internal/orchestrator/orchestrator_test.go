package orchestrator

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/voxvista/voxvista/internal/conversation"
	"github.com/voxvista/voxvista/internal/tooling"
	"github.com/voxvista/voxvista/pkg/provider/llm"
	"github.com/voxvista/voxvista/pkg/provider/llm/mock"
	"github.com/voxvista/voxvista/pkg/types"
)

// workflowFunc adapts a function to the Workflow interface.
type workflowFunc func(ctx context.Context, req tooling.Request) (*tooling.Result, error)

func (f workflowFunc) Process(ctx context.Context, req tooling.Request) (*tooling.Result, error) {
	return f(ctx, req)
}

// toolListerFunc adapts a function to the ToolLister interface.
type toolListerFunc func(ctx context.Context) ([]string, error)

func (f toolListerFunc) ListTools(ctx context.Context) ([]string, error) { return f(ctx) }

// usableResult is a workflow outcome that clears the default quality gate.
func usableResult(response string) *tooling.Result {
	return &tooling.Result{
		Response:         response,
		Intent:           tooling.IntentClassification{NeedsTool: true, IntentType: "ask", Confidence: 0.9},
		Selection:        tooling.ToolSelection{SelectedTool: "perplexity_ask"},
		ExecutionSuccess: true,
		QualityScore:     0.85,
	}
}

// capturePNG builds a base64 screen capture of the given size.
func capturePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestWorkflowResponseUsed(t *testing.T) {
	provider := &mock.Provider{}
	store := conversation.NewStore(0)
	wf := workflowFunc(func(ctx context.Context, req tooling.Request) (*tooling.Result, error) {
		return usableResult("The latest release shipped yesterday."), nil
	})

	o := New(provider, wf, store)
	reply, err := o.ProcessTurn(context.Background(), Turn{SessionID: "s1", Transcript: "what is the latest release"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if reply.Text != "The latest release shipped yesterday." {
		t.Errorf("Text = %q", reply.Text)
	}
	if !reply.ToolUsed || reply.ToolName != "perplexity_ask" {
		t.Errorf("ToolUsed = %v, ToolName = %q", reply.ToolUsed, reply.ToolName)
	}
	if reply.QualityScore != 0.85 {
		t.Errorf("QualityScore = %v, want 0.85", reply.QualityScore)
	}
	if n := len(provider.Calls()); n != 0 {
		t.Errorf("direct LLM called %d times on the workflow path", n)
	}
}

func TestQualityGateFallsBackToDirect(t *testing.T) {
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "Here is what I know directly."},
	}
	store := conversation.NewStore(0)
	wf := workflowFunc(func(ctx context.Context, req tooling.Request) (*tooling.Result, error) {
		return &tooling.Result{
			Response:         "low quality noise",
			Intent:           tooling.IntentClassification{NeedsTool: true},
			ExecutionSuccess: true,
			QualityScore:     0.4,
		}, nil
	})

	o := New(provider, wf, store)
	reply, err := o.ProcessTurn(context.Background(), Turn{SessionID: "s1", Transcript: "tell me about it"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if reply.ToolUsed {
		t.Error("ToolUsed = true for a result below the quality gate")
	}
	if reply.Text != "Here is what I know directly." {
		t.Errorf("Text = %q, want the direct response", reply.Text)
	}
	if n := len(provider.Calls()); n != 1 {
		t.Fatalf("direct LLM called %d times, want 1", n)
	}
}

func TestWorkflowErrorFallsBackToDirect(t *testing.T) {
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "direct answer"},
	}
	wf := workflowFunc(func(ctx context.Context, req tooling.Request) (*tooling.Result, error) {
		return nil, errors.New("workflow deadline exceeded")
	})

	o := New(provider, wf, conversation.NewStore(0))
	reply, err := o.ProcessTurn(context.Background(), Turn{SessionID: "s1", Transcript: "hello"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if reply.ToolUsed || reply.Text != "direct answer" {
		t.Errorf("reply = %+v, want direct fallback", reply)
	}
}

func TestDirectPromptScreenOff(t *testing.T) {
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "ok"},
	}
	o := New(provider, nil, conversation.NewStore(0))

	if _, err := o.ProcessTurn(context.Background(), Turn{SessionID: "s1", Transcript: "hi"}); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(calls))
	}
	msg := calls[0].Req.Messages[0]
	if !strings.Contains(msg.Content, "Screen sharing is currently OFF/DISABLED") {
		t.Error("prompt lacks the screen-off note")
	}
	if strings.Contains(msg.Content, "Screen sharing is ENABLED") {
		t.Error("prompt carries the screen-on note without a capture")
	}
	if len(msg.Images) != 0 {
		t.Errorf("images attached without a capture: %d", len(msg.Images))
	}
}

func TestScreenCaptureAnalyzedAndAttached(t *testing.T) {
	capture := capturePNG(t, 64, 64)

	provider := &mock.Provider{
		ModelCapabilities: types.ModelCapabilities{SupportsVision: true},
		CompleteFunc: func(call int, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if call == 1 {
				return &llm.CompletionResponse{Content: "A code editor showing a stack trace."}, nil
			}
			return &llm.CompletionResponse{Content: "Looks like a crash in main."}, nil
		},
	}
	o := New(provider, nil, conversation.NewStore(0))

	reply, err := o.ProcessTurn(context.Background(), Turn{SessionID: "s1", Transcript: "what broke", ScreenCapture: capture})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if reply.ScreenAnalysis != "A code editor showing a stack trace." {
		t.Errorf("ScreenAnalysis = %q", reply.ScreenAnalysis)
	}

	calls := provider.Calls()
	if len(calls) != 2 {
		t.Fatalf("Complete called %d times, want analysis + direct", len(calls))
	}

	analysis := calls[0].Req.Messages[0]
	if len(analysis.Images) != 1 || !strings.HasPrefix(analysis.Images[0], "data:image/jpeg;base64,") {
		t.Errorf("analysis call images = %v", analysis.Images)
	}

	direct := calls[1].Req.Messages[0]
	if !strings.Contains(direct.Content, "Screen sharing is ENABLED") {
		t.Error("direct prompt lacks the screen-on note")
	}
	if len(direct.Images) != 1 {
		t.Errorf("direct call images = %d, want the prepared capture", len(direct.Images))
	}
}

func TestAnalysisCacheSkipsSecondVisionCall(t *testing.T) {
	capture := capturePNG(t, 48, 48)

	provider := &mock.Provider{
		ModelCapabilities: types.ModelCapabilities{SupportsVision: true},
		CompleteResponse:  &llm.CompletionResponse{Content: "analysis or answer"},
	}
	o := New(provider, nil, conversation.NewStore(0))

	turn := Turn{SessionID: "s1", Transcript: "what is this", ScreenCapture: capture}
	if _, err := o.ProcessTurn(context.Background(), turn); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := o.ProcessTurn(context.Background(), turn); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	// Turn one: analysis + direct. Turn two: direct only, analysis cached.
	if n := len(provider.Calls()); n != 3 {
		t.Errorf("Complete called %d times, want 3", n)
	}
}

func TestWorkflowRequestCarriesScreenContext(t *testing.T) {
	capture := capturePNG(t, 32, 32)

	var got tooling.Request
	wf := workflowFunc(func(ctx context.Context, req tooling.Request) (*tooling.Result, error) {
		got = req
		return usableResult("done"), nil
	})
	provider := &mock.Provider{
		ModelCapabilities: types.ModelCapabilities{SupportsVision: true},
		CompleteResponse:  &llm.CompletionResponse{Content: "a login form"},
	}

	o := New(provider, wf, conversation.NewStore(0))
	if _, err := o.ProcessTurn(context.Background(), Turn{SessionID: "s1", Transcript: "fill this in", ScreenCapture: capture}); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if got.ScreenContext != "a login form" {
		t.Errorf("ScreenContext = %q", got.ScreenContext)
	}
	if !strings.HasSuffix(got.UserQuery, "\n\nScreen Context: a login form") {
		t.Errorf("UserQuery = %q, want the screen-context suffix", got.UserQuery)
	}
	if !strings.HasPrefix(got.UserQuery, "fill this in") {
		t.Errorf("UserQuery = %q, want the transcript prefix", got.UserQuery)
	}
}

func TestToolPreamble(t *testing.T) {
	tests := []struct {
		name   string
		lister ToolLister
		want   string
	}{
		{
			name: "tools advertised",
			lister: toolListerFunc(func(ctx context.Context) ([]string, error) {
				return []string{"perplexity_ask", "perplexity_research"}, nil
			}),
			want: "Available enhanced tools: perplexity_ask, perplexity_research",
		},
		{
			name: "listing fails",
			lister: toolListerFunc(func(ctx context.Context) ([]string, error) {
				return nil, errors.New("tool server down")
			}),
			want: "Available enhanced tools: No tools available",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "ok"},
			}
			o := New(provider, nil, conversation.NewStore(0), WithToolLister(tt.lister))

			if _, err := o.ProcessTurn(context.Background(), Turn{SessionID: "s1", Transcript: "hi"}); err != nil {
				t.Fatalf("ProcessTurn: %v", err)
			}
			content := provider.Calls()[0].Req.Messages[0].Content
			if !strings.Contains(content, tt.want) {
				t.Errorf("prompt lacks %q", tt.want)
			}
		})
	}
}

func TestEmptyDirectResponseFallback(t *testing.T) {
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "   "},
	}
	o := New(provider, nil, conversation.NewStore(0))

	reply, err := o.ProcessTurn(context.Background(), Turn{SessionID: "s1", Transcript: "hi"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if reply.Text != "I apologize, but I couldn't generate a response." {
		t.Errorf("Text = %q, want the empty-response fallback", reply.Text)
	}
}

func TestDirectErrorDegradesToApology(t *testing.T) {
	provider := &mock.Provider{CompleteErr: errors.New("backend unavailable")}
	store := conversation.NewStore(0)
	o := New(provider, nil, store)

	reply, err := o.ProcessTurn(context.Background(), Turn{SessionID: "s1", Transcript: "hi"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if !strings.Contains(reply.Text, "I apologize, but I encountered an error") {
		t.Errorf("Text = %q, want the error apology", reply.Text)
	}
	// A failed turn is not remembered.
	if n := store.Len("s1"); n != 0 {
		t.Errorf("store holds %d entries after a failed turn", n)
	}
}

func TestCancelledTurnReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &mock.Provider{
		CompleteFunc: func(call int, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, ctx.Err()
		},
	}
	o := New(provider, nil, conversation.NewStore(0))

	if _, err := o.ProcessTurn(ctx, Turn{SessionID: "s1", Transcript: "hi"}); !errors.Is(err, context.Canceled) {
		t.Errorf("ProcessTurn error = %v, want context.Canceled", err)
	}
}

func TestTurnAppendsConversationEntries(t *testing.T) {
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello there"},
	}
	store := conversation.NewStore(0)
	o := New(provider, nil, store)

	if _, err := o.ProcessTurn(context.Background(), Turn{SessionID: "s1", Transcript: "hi"}); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	entries := store.Recent("s1", 0)
	if len(entries) != 2 {
		t.Fatalf("store holds %d entries, want 2", len(entries))
	}
	if entries[0].Role != types.RoleUser || entries[0].Content != "hi" {
		t.Errorf("user entry = %+v", entries[0])
	}
	if entries[1].Role != types.RoleAssistant || entries[1].Content != "hello there" {
		t.Errorf("assistant entry = %+v", entries[1])
	}
	if entries[0].HadScreen {
		t.Error("HadScreen = true without a capture")
	}
}
