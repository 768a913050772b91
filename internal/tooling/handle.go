// Package tooling drives the external research tool plane: a thin response
// handle over the framed RPC transport and the multi-node tool-calling
// workflow that decides when and how to use it.
package tooling

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// Transport is the framed JSON-RPC surface the tooling layer needs. It is
// implemented by [github.com/voxvista/voxvista/internal/rpc.Client].
type Transport interface {
	// Connect establishes (or re-establishes) the tool-server child process.
	Connect(ctx context.Context) error

	// ToolCall sends a raw JSON-RPC request string and returns the parsed
	// response, or an error on transport or decode failure.
	ToolCall(ctx context.Context, rawRequest string) (map[string]any, error)

	// ListTools returns the names the tool server advertises.
	ListTools(ctx context.Context) ([]string, error)
}

// Handle wraps the transport with the research tool's response conventions:
// code-fenced JSON requests, `result.content[0].text` extraction, and the
// "Citations:" body/citation split.
type Handle struct {
	transport Transport
	log       *slog.Logger
}

// NewHandle creates a Handle over the given transport.
func NewHandle(transport Transport, log *slog.Logger) *Handle {
	if log == nil {
		log = slog.Default()
	}
	return &Handle{transport: transport, log: log}
}

// HandleToolCall treats text as a JSON-RPC request (optionally wrapped in
// ```json code fences), sends it through the transport, and extracts the
// textual payload from `result.content[0].text`. On any failure the input is
// returned unchanged so the caller always has something to work with.
func (h *Handle) HandleToolCall(ctx context.Context, text string) string {
	raw := StripCodeFences(text)

	if err := h.transport.Connect(ctx); err != nil {
		h.log.Error("tool server connect failed", "error", err)
		return text
	}

	resp, err := h.transport.ToolCall(ctx, raw)
	if err != nil {
		h.log.Error("tool call failed", "error", err)
		return text
	}

	if extracted, ok := ExtractContentText(resp); ok {
		return extracted
	}
	return text
}

// ExtractContentText pulls `result.content[0].text` out of a parsed JSON-RPC
// response. When the text field is absent but content exists, the first
// content element is stringified; when the shape does not match at all, the
// whole response is stringified. The second return is false only for a nil
// response.
func ExtractContentText(resp map[string]any) (string, bool) {
	if resp == nil {
		return "", false
	}

	result, ok := resp["result"].(map[string]any)
	if !ok {
		return stringify(resp), true
	}
	content, ok := result["content"].([]any)
	if !ok || len(content) == 0 {
		return stringify(resp), true
	}
	first, ok := content[0].(map[string]any)
	if !ok {
		return stringify(content[0]), true
	}
	if text, ok := first["text"].(string); ok {
		return text, true
	}
	return stringify(first), true
}

func stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

var (
	citationMarkerRe = regexp.MustCompile(`\[\d+\]`)
	boldRe           = regexp.MustCompile(`\*\*(.*?)\*\*`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

// Parse splits a research response into body and citations at the first
// "Citations:" delimiter and cleans the body: `[n]` citation markers removed,
// `**bold**` markers unwrapped, runs of whitespace collapsed. Without a
// delimiter, the cleaned text is returned with an empty citations block.
func Parse(response string) (body, citations string) {
	if before, after, found := strings.Cut(response, "Citations:"); found {
		return CleanResponseText(before), "Citations:" + strings.TrimSpace(after)
	}
	return CleanResponseText(response), ""
}

// CleanResponseText strips citation markers and bold formatting and collapses
// whitespace.
func CleanResponseText(text string) string {
	text = citationMarkerRe.ReplaceAllString(text, "")
	text = boldRe.ReplaceAllString(text, "$1")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// StripCodeFences removes a ```json … ``` wrapper when present. Text without
// fences is returned trimmed.
func StripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	body := trimmed
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
