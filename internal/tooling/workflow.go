package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/voxvista/voxvista/pkg/provider/llm"
	"github.com/voxvista/voxvista/pkg/types"
)

// Workflow defaults.
const (
	DefaultMaxRetries = 2
	DefaultTimeout    = 45 * time.Second

	// DefaultQualityThreshold is the minimum quality score for a workflow
	// result to be used instead of the direct LLM path.
	DefaultQualityThreshold = 0.6

	// defaultExecuteSystemPrompt is used when parameter optimization did not
	// produce one.
	defaultExecuteSystemPrompt = "Provide a concise, focused answer. Keep the response under 100 words keeping it like a natural conversation. Include only the most relevant and current information."

	// noScreenContext marks the absence of a screen analysis in a request.
	noScreenContext = "No screen context available"
)

// Request carries one query through the workflow.
type Request struct {
	// UserQuery is the transcript (possibly augmented with screen context).
	UserQuery string

	// ConversationContext is the formatted recent dialogue. May be empty.
	ConversationContext string

	// ScreenContext is the screen-analysis text, or empty / the
	// "No screen context available" marker when there is none.
	ScreenContext string

	// SessionID identifies the pipeline turn for logging.
	SessionID string

	// AvailableTools are the tool names the server currently advertises.
	AvailableTools []string
}

// IntentClassification is the outcome of the classify_intent node.
type IntentClassification struct {
	NeedsTool  bool    `json:"needs_tool"`
	IntentType string  `json:"intent_type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// ToolSelection is the outcome of the select_tool node.
type ToolSelection struct {
	SelectedTool string  `json:"selected_tool"`
	Reasoning    string  `json:"reasoning"`
	Confidence   float64 `json:"confidence"`
}

// ExecutionRecord is one entry in the append-only execution history.
type ExecutionRecord struct {
	Tool      string
	Query     string
	Success   bool
	Timestamp time.Time
}

// Result is the workflow's outcome as surfaced to the orchestrator.
type Result struct {
	// Response is the final text, regardless of which terminal node produced it.
	Response string

	// Intent is the classification that routed the request.
	Intent IntentClassification

	// Selection is the chosen tool, zero-valued on the direct path.
	Selection ToolSelection

	// ExecutionSuccess reports whether a tool call completed.
	ExecutionSuccess bool

	// QualityScore is the parse-response node's assessment in [0, 1].
	QualityScore float64

	// History records every tool execution attempt.
	History []ExecutionRecord

	// Errors accumulates node error messages.
	Errors []string
}

// Usable reports whether the orchestrator should use Response instead of
// falling back to the direct LLM path: the query needed a tool, the tool ran,
// and the parsed quality clears the threshold.
func (r *Result) Usable(threshold float64) bool {
	return r.Intent.NeedsTool && r.ExecutionSuccess && r.QualityScore >= threshold
}

// WorkflowOption is a functional option for Workflow.
type WorkflowOption func(*Workflow)

// WithMaxRetries sets how many times a failed tool execution re-enters
// parameter optimization. Default 2.
func WithMaxRetries(n int) WorkflowOption {
	return func(w *Workflow) { w.maxRetries = n }
}

// WithTimeout sets the wall-clock ceiling for one workflow run. Default 45s.
func WithTimeout(d time.Duration) WorkflowOption {
	return func(w *Workflow) { w.timeout = d }
}

// WithWorkflowLogger sets the logger. Defaults to slog.Default().
func WithWorkflowLogger(log *slog.Logger) WorkflowOption {
	return func(w *Workflow) { w.log = log }
}

// Workflow is the explicit tool-calling state machine:
//
//	classify_intent ─┬─> select_tool -> optimize_parameters -> execute_tool
//	                 │                        ^                     │
//	                 │                        └──── retry ──────────┤
//	                 │                                              ├─> parse_response -> synthesize_result
//	                 │                                              └─> handle_error
//	                 └─> direct_response
//
// Each node is an LLM or RPC interaction operating on a shared per-request
// state; a failed execution re-enters optimize_parameters so the retry may
// rewrite the query, up to maxRetries attempts.
type Workflow struct {
	llm        llm.Provider
	transport  Transport
	log        *slog.Logger
	maxRetries int
	timeout    time.Duration
}

// NewWorkflow creates a Workflow over the given LLM and tool transport.
func NewWorkflow(provider llm.Provider, transport Transport, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		llm:        provider,
		transport:  transport,
		log:        slog.Default(),
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultTimeout,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// node identifies a state-machine node.
type node int

const (
	nodeClassifyIntent node = iota
	nodeSelectTool
	nodeOptimizeParameters
	nodeExecuteTool
	nodeParseResponse
	nodeSynthesizeResult
	nodeHandleError
	nodeDirectResponse
	nodeEnd
)

// parameterOptimization is the outcome of the optimize_parameters node.
type parameterOptimization struct {
	OptimizedQuery   string         `json:"optimized_query"`
	SystemPrompt     string         `json:"system_prompt"`
	SearchParameters map[string]any `json:"search_parameters"`
}

// parsedResponse is the outcome of the parse_response node.
type parsedResponse struct {
	ParsedContent string  `json:"parsed_content"`
	Citations     string  `json:"citations"`
	QualityScore  float64 `json:"quality_score"`
	Issues        string  `json:"issues"`
}

// state is the mutable per-request workflow state, threaded through the nodes.
type state struct {
	req Request

	intent       IntentClassification
	selection    ToolSelection
	optimization parameterOptimization

	history     []ExecutionRecord
	currentTool string
	retryCount  int

	toolResponse  string
	parsed        parsedResponse
	finalResponse string

	executionSuccess bool
	qualityScore     float64
	errorMessages    []string
}

func (s *state) fail(msg string) {
	s.errorMessages = append(s.errorMessages, msg)
}

// Process runs one query through the state machine. The only error return is
// cancellation or the wall-clock ceiling; node-level failures surface inside
// the Result so the orchestrator can fall back gracefully.
func (w *Workflow) Process(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	st := &state{req: req}
	current := nodeClassifyIntent

	for current != nodeEnd {
		// Cooperative cancellation before every node.
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("tooling: workflow aborted at node %d: %w", current, err)
		}

		switch current {
		case nodeClassifyIntent:
			w.classifyIntent(ctx, st)
			if st.intent.NeedsTool {
				current = nodeSelectTool
			} else {
				current = nodeDirectResponse
			}

		case nodeSelectTool:
			w.selectTool(ctx, st)
			current = nodeOptimizeParameters

		case nodeOptimizeParameters:
			w.optimizeParameters(ctx, st)
			current = nodeExecuteTool

		case nodeExecuteTool:
			w.executeTool(ctx, st)
			switch {
			case st.executionSuccess:
				current = nodeParseResponse
			case st.retryCount < w.maxRetries:
				// Re-optimize so the retry can rewrite the query.
				current = nodeOptimizeParameters
			default:
				current = nodeHandleError
			}

		case nodeParseResponse:
			w.parseResponse(ctx, st)
			current = nodeSynthesizeResult

		case nodeSynthesizeResult:
			w.synthesizeResult(ctx, st)
			current = nodeEnd

		case nodeHandleError:
			w.handleError(st)
			current = nodeEnd

		case nodeDirectResponse:
			w.directResponse(st)
			current = nodeEnd
		}
	}

	return &Result{
		Response:         st.finalResponse,
		Intent:           st.intent,
		Selection:        st.selection,
		ExecutionSuccess: st.executionSuccess,
		QualityScore:     st.qualityScore,
		History:          st.history,
		Errors:           st.errorMessages,
	}, nil
}

// ── Nodes ──

func (w *Workflow) classifyIntent(ctx context.Context, st *state) {
	prompt := fmt.Sprintf(
		"User query: %s\nConversation context: %s\nScreen context: %s",
		st.req.UserQuery, st.req.ConversationContext, st.req.ScreenContext,
	)

	var out struct {
		NeedsTool  flexBool  `json:"needs_tool"`
		IntentType string    `json:"intent_type"`
		Confidence flexFloat `json:"confidence"`
		Reasoning  string    `json:"reasoning"`
	}
	err := w.completeJSON(ctx, st, classifyIntentSystemPrompt, prompt, &out)
	if err != nil {
		// Classification failure never blocks the turn; it routes to the
		// direct path with zero confidence.
		w.log.Error("intent classification failed", "error", err, "session_id", st.req.SessionID)
		st.intent = IntentClassification{NeedsTool: false, IntentType: "none", Confidence: 0, Reasoning: "Error: " + err.Error()}
		return
	}

	st.intent = IntentClassification{
		NeedsTool:  bool(out.NeedsTool),
		IntentType: out.IntentType,
		Confidence: float64(out.Confidence),
		Reasoning:  out.Reasoning,
	}
	w.log.Info("intent classified",
		"needs_tool", st.intent.NeedsTool,
		"intent_type", st.intent.IntentType,
		"confidence", st.intent.Confidence,
		"session_id", st.req.SessionID)
}

func (w *Workflow) selectTool(ctx context.Context, st *state) {
	prompt := fmt.Sprintf(
		"Intent type: %s\nUser query: %s\nAvailable tools: %s\nConversation context: %s",
		st.intent.IntentType, st.req.UserQuery,
		strings.Join(st.req.AvailableTools, ", "), st.req.ConversationContext,
	)

	var out struct {
		SelectedTool string    `json:"selected_tool"`
		Reasoning    string    `json:"reasoning"`
		Confidence   flexFloat `json:"confidence"`
	}
	if err := w.completeJSON(ctx, st, selectToolSystemPrompt, prompt, &out); err != nil {
		st.fail("Tool selection error: " + err.Error())
		return
	}

	st.selection = ToolSelection{SelectedTool: out.SelectedTool, Reasoning: out.Reasoning, Confidence: float64(out.Confidence)}
	st.currentTool = out.SelectedTool
	w.log.Info("tool selected", "tool", st.currentTool, "confidence", st.selection.Confidence, "session_id", st.req.SessionID)
}

func (w *Workflow) optimizeParameters(ctx context.Context, st *state) {
	var contextParts []string
	if st.req.ConversationContext != "" {
		contextParts = append(contextParts, "Conversation: "+st.req.ConversationContext)
	}
	if st.req.ScreenContext != "" && st.req.ScreenContext != noScreenContext {
		contextParts = append(contextParts, "Screen Analysis: "+st.req.ScreenContext)
	}
	contextBlock := "No additional context available"
	if len(contextParts) > 0 {
		contextBlock = strings.Join(contextParts, "\n")
	}

	prompt := fmt.Sprintf(
		"Tool name: %s\nUser query: %s\nContext:\n%s\nIntent type: %s",
		st.currentTool, st.req.UserQuery, contextBlock, st.intent.IntentType,
	)

	var out struct {
		OptimizedQuery   string          `json:"optimized_query"`
		SystemPrompt     string          `json:"system_prompt"`
		SearchParameters json.RawMessage `json:"search_parameters"`
	}
	if err := w.completeJSON(ctx, st, optimizeParametersSystemPrompt, prompt, &out); err != nil {
		st.fail("Parameter optimization error: " + err.Error())
		return
	}

	searchParams := map[string]any{}
	if err := json.Unmarshal(out.SearchParameters, &searchParams); err != nil {
		searchParams = map[string]any{"enhanced": true}
	}

	st.optimization = parameterOptimization{
		OptimizedQuery:   out.OptimizedQuery,
		SystemPrompt:     out.SystemPrompt,
		SearchParameters: searchParams,
	}
	w.log.Info("parameters optimized", "optimized_query", out.OptimizedQuery, "session_id", st.req.SessionID)
}

func (w *Workflow) executeTool(ctx context.Context, st *state) {
	systemPrompt := st.optimization.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultExecuteSystemPrompt
	}
	query := st.optimization.OptimizedQuery
	if query == "" {
		query = st.req.UserQuery
	}

	rpcRequest := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name": st.currentTool,
			"arguments": map[string]any{
				"messages": []map[string]string{
					{"role": types.RoleSystem, "content": systemPrompt},
					{"role": types.RoleUser, "content": query},
				},
			},
		},
	}
	raw, err := json.Marshal(rpcRequest)
	if err != nil {
		st.executionSuccess = false
		st.fail("Tool execution error: " + err.Error())
		st.retryCount++
		return
	}

	record := ExecutionRecord{Tool: st.currentTool, Query: query, Timestamp: time.Now()}

	if err := w.transport.Connect(ctx); err != nil {
		st.executionSuccess = false
		st.fail("Tool execution error: " + err.Error())
		st.retryCount++
		st.history = append(st.history, record)
		return
	}

	resp, err := w.transport.ToolCall(ctx, string(raw))
	if err != nil {
		st.executionSuccess = false
		st.fail("Tool execution error: " + err.Error())
		st.retryCount++
		st.history = append(st.history, record)
		w.log.Warn("tool execution failed",
			"tool", st.currentTool, "retry_count", st.retryCount, "error", err, "session_id", st.req.SessionID)
		return
	}

	text, ok := ExtractContentText(resp)
	if !ok || text == "" {
		st.executionSuccess = false
		st.fail("Tool returned no response")
		st.retryCount++
		st.history = append(st.history, record)
		return
	}

	st.toolResponse = text
	st.executionSuccess = true
	record.Success = true
	st.history = append(st.history, record)
	w.log.Info("tool execution successful", "tool", st.currentTool, "session_id", st.req.SessionID)
}

func (w *Workflow) parseResponse(ctx context.Context, st *state) {
	prompt := fmt.Sprintf(
		"Tool response:\n%s\n\nOriginal query: %s\nTool used: %s",
		st.toolResponse, st.req.UserQuery, st.currentTool,
	)

	var out struct {
		ParsedContent string    `json:"parsed_content"`
		Citations     string    `json:"citations"`
		QualityScore  flexFloat `json:"quality_score"`
		Issues        string    `json:"issues"`
	}
	if err := w.completeJSON(ctx, st, parseResponseSystemPrompt, prompt, &out); err != nil {
		st.fail("Response parsing error: " + err.Error())
		return
	}

	st.parsed = parsedResponse{
		ParsedContent: out.ParsedContent,
		Citations:     out.Citations,
		QualityScore:  float64(out.QualityScore),
		Issues:        out.Issues,
	}
	st.qualityScore = float64(out.QualityScore)
	w.log.Info("response parsed", "quality_score", st.qualityScore, "session_id", st.req.SessionID)
}

func (w *Workflow) synthesizeResult(ctx context.Context, st *state) {
	toolResult := st.parsed.ParsedContent
	if toolResult == "" {
		toolResult = st.toolResponse
	}

	prompt := fmt.Sprintf(
		"Tool result:\n%s\n\nOriginal query: %s\nConversation context: %s\nScreen context: %s",
		toolResult, st.req.UserQuery, st.req.ConversationContext, st.req.ScreenContext,
	)

	resp, err := w.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: synthesizeResultSystemPrompt,
		Messages:     []types.Message{{Role: types.RoleUser, Content: prompt}},
	})
	if err != nil {
		w.log.Error("result synthesis failed", "error", err, "session_id", st.req.SessionID)
		if st.toolResponse != "" {
			st.finalResponse = st.toolResponse
		} else {
			st.finalResponse = "Sorry, I couldn't process the response."
		}
		return
	}

	st.finalResponse = strings.TrimSpace(resp.Content)
}

func (w *Workflow) handleError(st *state) {
	summary := strings.Join(st.errorMessages, "; ")
	st.finalResponse = fmt.Sprintf(
		"I encountered some issues while processing your request: %s. Please try rephrasing your question.", summary)
}

func (w *Workflow) directResponse(st *state) {
	if st.req.ScreenContext != "" && st.req.ScreenContext != noScreenContext {
		st.finalResponse = fmt.Sprintf(
			"Based on your query and what I can see on your screen: %s\n\nRegarding '%s', I can help with that directly.",
			st.req.ScreenContext, st.req.UserQuery)
		return
	}
	st.finalResponse = "I can help with that directly. Regarding: " + st.req.UserQuery
}

// completeJSON runs one LLM completion that is expected to answer with a
// single JSON object and decodes it into out, stripping code fences first.
func (w *Workflow) completeJSON(ctx context.Context, st *state, systemPrompt, userPrompt string, out any) error {
	resp, err := w.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []types.Message{{Role: types.RoleUser, Content: userPrompt}},
	})
	if err != nil {
		return err
	}

	body := StripCodeFences(resp.Content)
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decode node output: %w", err)
	}
	return nil
}

// ── Node system prompts ──

const (
	classifyIntentSystemPrompt = `Determine if the user query requires external tool usage (web search / research).
Respond with a single JSON object and nothing else:
{"needs_tool": true|false, "intent_type": "ask"|"none", "confidence": <0-1>, "reasoning": "<why>"}`

	selectToolSystemPrompt = `Select the optimal tool for the given intent from the available tools.
Respond with a single JSON object and nothing else:
{"selected_tool": "<exact tool name>", "reasoning": "<why>", "confidence": <0-1>}`

	optimizeParametersSystemPrompt = `Rewrite the user query for the selected tool, incorporating the screen analysis and conversation history when present.
Respond with a single JSON object and nothing else:
{"optimized_query": "<enhanced query>", "system_prompt": "<instruction requesting a concise response under 150 words with key information only>", "search_parameters": {<additional parameters>}}`

	parseResponseSystemPrompt = `Parse and validate the tool response against the original query.
Respond with a single JSON object and nothing else:
{"parsed_content": "<extracted main content>", "citations": "<extracted citations if any>", "quality_score": <0-1>, "issues": "<any issues found>"}`

	synthesizeResultSystemPrompt = `Produce a natural conversational response from the tool result, incorporating the conversation history and screen context when relevant. Answer with the response text only.`
)

// ── Lenient JSON scalars ──
//
// Models answer "true" or "0.9" as strings often enough that the node outputs
// accept both forms.

type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*b = flexBool(strings.EqualFold(strings.TrimSpace(s), "true"))
	return nil
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*f = flexFloat(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexFloat(parsed)
	return nil
}
