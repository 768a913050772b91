// Package orchestrator runs the reasoning stage of a pipeline turn: it
// assembles conversation and screen context, tries the tool-calling workflow
// first, and falls back to a direct multimodal completion when the workflow
// declines the query or its result does not clear the quality gate.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxvista/voxvista/internal/conversation"
	"github.com/voxvista/voxvista/internal/perf"
	"github.com/voxvista/voxvista/internal/tooling"
	"github.com/voxvista/voxvista/internal/vision"
	"github.com/voxvista/voxvista/pkg/provider/llm"
	"github.com/voxvista/voxvista/pkg/types"
)

const (
	// DefaultQualityThreshold gates workflow results: below it the turn falls
	// back to the direct completion path.
	DefaultQualityThreshold = 0.6

	// directContextWindow is how many dialogue entries the direct path folds
	// into its prompt.
	directContextWindow = 10

	// workflowContextWindow is how many dialogue entries the workflow request
	// carries. Smaller than the direct window: the workflow nodes quote the
	// context repeatedly.
	workflowContextWindow = 5

	// emptyResponseFallback replaces a blank model reply so the client always
	// hears something.
	emptyResponseFallback = "I apologize, but I couldn't generate a response."

	// turnErrorResponse is spoken when the reasoning stage itself fails.
	turnErrorResponse = "I apologize, but I encountered an error processing your request. Please try again."

	screenEnabledNote  = "\n\nScreen sharing is ENABLED. I can see your screen and will provide contextual assistance."
	screenDisabledNote = "\n\nScreen sharing is currently OFF/DISABLED. I cannot see the user's screen. Do not make up or hallucinate screen content."

	// analysisFailedContext stands in for a screen analysis the model could
	// not produce; it keeps the downstream prompts honest about the gap.
	analysisFailedContext = "Screen context available but analysis failed"
)

// directSystemPrompt frames the direct completion path. %s is the advertised
// tool list.
const directSystemPrompt = `You are a helpful AI assistant with enhanced reasoning capabilities.
You have access to powerful research tools and can analyze screen content when available.

Conversation Guidelines:
- Be conversational and friendly
- Reference previous parts of the conversation when relevant
- When screen context is available, use it to provide more relevant assistance
- Provide clear, well-structured responses with proper citations when available

Available enhanced tools: %s`

// screenAnalysisPrompt asks the vision model for a compact description of a
// capture before the workflow runs.
const screenAnalysisPrompt = `Analyze this screen image and provide a concise description of what you see. Focus on:
1. Main UI elements, text, and content visible
2. Application or website being used
3. Key information that might be relevant for user assistance
4. Any error messages, notifications, or important status indicators

Provide a clear, structured description in 2-3 sentences that captures the essential context.`

// Workflow is the tool-calling surface the orchestrator drives. Implemented
// by [tooling.Workflow].
type Workflow interface {
	Process(ctx context.Context, req tooling.Request) (*tooling.Result, error)
}

// ToolLister reports the tool names the tool server advertises. Implemented
// by [github.com/voxvista/voxvista/internal/rpc.Client].
type ToolLister interface {
	ListTools(ctx context.Context) ([]string, error)
}

// Turn is one completed utterance entering the reasoning stage.
type Turn struct {
	// SessionID identifies the client session.
	SessionID string

	// Transcript is the recognised user text.
	Transcript string

	// ScreenCapture is the base64 capture for this turn, empty when the turn
	// was not deferred for one.
	ScreenCapture string
}

// Reply is the reasoning stage's outcome.
type Reply struct {
	// Text is the response to synthesise and send. Never empty.
	Text string

	// ToolUsed reports whether the tool-calling workflow produced Text.
	ToolUsed bool

	// ToolName is the executed tool, empty on the direct path.
	ToolName string

	// QualityScore is the workflow's quality assessment, zero on the direct path.
	QualityScore float64

	// ScreenAnalysis is the capture description fed into the prompts, empty
	// when no capture was analysed.
	ScreenAnalysis string

	// ProcessingTime is the stage's wall-clock duration in seconds.
	ProcessingTime float64
}

// Option is a functional option for Orchestrator.
type Option func(*Orchestrator)

// WithQualityThreshold sets the workflow quality gate. Default 0.6.
func WithQualityThreshold(t float64) Option {
	return func(o *Orchestrator) { o.qualityThreshold = t }
}

// WithMaxImageSize bounds the larger side of an attached capture.
// Default [vision.DefaultMaxImageSize].
func WithMaxImageSize(px int) Option {
	return func(o *Orchestrator) { o.maxImageSize = px }
}

// WithAnalysisCache replaces the screen-analysis cache.
func WithAnalysisCache(c *vision.AnalysisCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithMonitor attaches a performance monitor recording the multimodal stage.
func WithMonitor(m *perf.Monitor) Option {
	return func(o *Orchestrator) { o.monitor = m }
}

// WithToolLister attaches the tool-server listing used for the prompt
// preamble. Without one the prompts state that no tools are available.
func WithToolLister(l ToolLister) Option {
	return func(o *Orchestrator) { o.tools = l }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// Orchestrator coordinates one reasoning turn end to end. Safe for concurrent
// use; turns from different sessions may run in parallel.
type Orchestrator struct {
	llm      llm.Provider
	workflow Workflow
	tools    ToolLister
	store    *conversation.Store
	cache    *vision.AnalysisCache
	monitor  *perf.Monitor
	log      *slog.Logger

	qualityThreshold float64
	maxImageSize     int

	// toolNames caches a successful ListTools; failures retry on the next turn.
	toolsMu   sync.Mutex
	toolNames []string
}

// New creates an Orchestrator. workflow may be nil, which disables the
// tool-calling path entirely.
func New(provider llm.Provider, workflow Workflow, store *conversation.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llm:              provider,
		workflow:         workflow,
		store:            store,
		cache:            vision.NewAnalysisCache(),
		log:              slog.Default(),
		qualityThreshold: DefaultQualityThreshold,
		maxImageSize:     vision.DefaultMaxImageSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessTurn runs one utterance through the reasoning stage and appends the
// exchange to the conversation store. The reply text is never empty; stage
// failures degrade to an apology instead of an error. The only error return
// is context cancellation.
func (o *Orchestrator) ProcessTurn(ctx context.Context, turn Turn) (*Reply, error) {
	start := time.Now()

	reply, err := o.processTurn(ctx, turn)
	if err != nil {
		if o.monitor != nil {
			o.monitor.Record(perf.ServiceMultimodal, "process_turn", time.Since(start).Seconds(), false, nil)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("orchestrator: turn aborted: %w", ctx.Err())
		}
		o.log.Error("reasoning stage failed", "error", err, "session_id", turn.SessionID)
		reply = &Reply{Text: turnErrorResponse}
	} else if o.monitor != nil {
		o.monitor.Record(perf.ServiceMultimodal, "process_turn", time.Since(start).Seconds(), true, nil)
	}

	reply.ProcessingTime = time.Since(start).Seconds()
	return reply, nil
}

func (o *Orchestrator) processTurn(ctx context.Context, turn Turn) (*Reply, error) {
	toolNames := o.availableTools(ctx)

	var analysis, imageURL string
	if turn.ScreenCapture != "" {
		analysis, imageURL = o.analyzeScreen(ctx, turn)
	}

	reply := &Reply{ScreenAnalysis: analysis}

	if o.workflow != nil {
		if done := o.tryWorkflow(ctx, turn, toolNames, analysis, reply); done {
			o.remember(turn, reply)
			return reply, nil
		}
	}

	text, err := o.directResponse(ctx, turn, toolNames, imageURL)
	if err != nil {
		return nil, err
	}
	reply.Text = text
	if strings.TrimSpace(reply.Text) == "" {
		reply.Text = emptyResponseFallback
	}

	o.remember(turn, reply)
	return reply, nil
}

// tryWorkflow runs the tool-calling workflow and fills reply when the result
// clears the quality gate. Workflow errors and rejected results both report
// false so the caller falls back to the direct path.
func (o *Orchestrator) tryWorkflow(ctx context.Context, turn Turn, toolNames []string, analysis string, reply *Reply) bool {
	query := turn.Transcript
	screenContext := "No screen context available"
	if analysis != "" {
		query = turn.Transcript + "\n\nScreen Context: " + analysis
		screenContext = analysis
	}

	result, err := o.workflow.Process(ctx, tooling.Request{
		UserQuery:           query,
		ConversationContext: o.store.FormatContext(turn.SessionID, workflowContextWindow),
		ScreenContext:       screenContext,
		SessionID:           turn.SessionID,
		AvailableTools:      toolNames,
	})
	if err != nil {
		o.log.Error("tool-calling workflow failed", "error", err, "session_id", turn.SessionID)
		return false
	}

	if !result.Usable(o.qualityThreshold) || strings.TrimSpace(result.Response) == "" {
		if result.Intent.NeedsTool {
			o.log.Warn("workflow result below quality gate",
				"quality_score", result.QualityScore,
				"execution_success", result.ExecutionSuccess,
				"session_id", turn.SessionID)
		}
		return false
	}

	reply.Text = result.Response
	reply.ToolUsed = true
	reply.ToolName = result.Selection.SelectedTool
	reply.QualityScore = result.QualityScore
	o.log.Info("using workflow response",
		"tool", reply.ToolName,
		"quality_score", reply.QualityScore,
		"session_id", turn.SessionID)
	return true
}

// directResponse is the fallback completion: one user message carrying the
// system framing, the recent dialogue, the transcript, and the screen-share
// state note, with the prepared capture attached when one exists.
func (o *Orchestrator) directResponse(ctx context.Context, turn Turn, toolNames []string, imageURL string) (string, error) {
	toolsLine := "No tools available"
	if len(toolNames) > 0 {
		toolsLine = strings.Join(toolNames, ", ")
	}

	parts := []string{fmt.Sprintf(directSystemPrompt, toolsLine)}
	if history := o.store.FormatContext(turn.SessionID, directContextWindow); history != "" {
		parts = append(parts, history)
	}
	parts = append(parts, "User: "+turn.Transcript)

	content := strings.Join(parts, "\n")
	msg := types.Message{Role: types.RoleUser}
	if imageURL != "" {
		content += screenEnabledNote
		msg.Images = []string{imageURL}
	} else {
		content += screenDisabledNote
	}
	msg.Content = content

	resp, err := o.llm.Complete(ctx, llm.CompletionRequest{Messages: []types.Message{msg}})
	if err != nil {
		return "", fmt.Errorf("orchestrator: direct completion: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// analyzeScreen prepares the capture for attachment and produces its textual
// analysis, reusing a cached analysis for rapidly repeated captures. A capture
// that cannot be decoded degrades to the no-screen path.
func (o *Orchestrator) analyzeScreen(ctx context.Context, turn Turn) (analysis, imageURL string) {
	prepared, err := vision.Prepare(turn.ScreenCapture, o.maxImageSize)
	if err != nil {
		o.log.Error("screen capture unusable", "error", err, "session_id", turn.SessionID)
		return "", ""
	}

	if cached, ok := o.cache.Get(len(turn.ScreenCapture)); ok {
		o.log.Info("screen analysis cache hit", "session_id", turn.SessionID)
		return cached, prepared
	}

	if !o.llm.Capabilities().SupportsVision {
		o.log.Warn("provider cannot analyze screen captures", "session_id", turn.SessionID)
		return "", prepared
	}

	resp, err := o.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{{
			Role:    types.RoleUser,
			Content: screenAnalysisPrompt,
			Images:  []string{prepared},
		}},
	})
	if err != nil {
		o.log.Error("screen analysis failed", "error", err, "session_id", turn.SessionID)
		return analysisFailedContext, prepared
	}

	analysis = strings.TrimSpace(resp.Content)
	if analysis != "" {
		o.cache.Put(len(turn.ScreenCapture), analysis)
	}
	return analysis, prepared
}

// remember appends the exchange to the conversation store.
func (o *Orchestrator) remember(turn Turn, reply *Reply) {
	o.store.Append(turn.SessionID, conversation.Entry{
		Role:      types.RoleUser,
		Content:   turn.Transcript,
		HadScreen: turn.ScreenCapture != "",
	})
	o.store.Append(turn.SessionID, conversation.Entry{
		Role:         types.RoleAssistant,
		Content:      reply.Text,
		ToolUsed:     reply.ToolUsed,
		QualityScore: reply.QualityScore,
	})
}

// availableTools returns the advertised tool names, fetching them once and
// caching the first successful listing.
func (o *Orchestrator) availableTools(ctx context.Context) []string {
	if o.tools == nil {
		return nil
	}

	o.toolsMu.Lock()
	defer o.toolsMu.Unlock()

	if o.toolNames != nil {
		return o.toolNames
	}
	names, err := o.tools.ListTools(ctx)
	if err != nil {
		o.log.Warn("tool listing failed", "error", err)
		return nil
	}
	o.toolNames = names
	return names
}
