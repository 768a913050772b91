// Package config provides the configuration schema and loader for the
// voxvista server.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the voxvista server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to the slog level, defaulting to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Duration wraps time.Duration so YAML values like "30s" or "500ms" decode
// with time.ParseDuration semantics.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("config: duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for voxvista.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	ToolServer ToolServerConfig `yaml:"toolserver"`
	STT        STTConfig        `yaml:"stt"`
	TTS        TTSConfig        `yaml:"tts"`
	LLM        LLMConfig        `yaml:"llm"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Perf       PerfConfig       `yaml:"perf"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Host is the interface to bind (e.g., "0.0.0.0").
	Host string `yaml:"host"`

	// Port is the TCP port for the HTTP/WebSocket server.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ToolServerConfig describes the external tool-server child process.
type ToolServerConfig struct {
	// Enabled turns the tool workflow on. When false the assistant answers
	// every turn directly.
	Enabled bool `yaml:"enabled"`

	// Command is the argv launched as the tool-server subprocess, e.g.
	// ["docker", "run", "-i", "--rm", "mcp/perplexity-ask"].
	Command []string `yaml:"command"`

	// ConnectTimeout bounds the initial handshake.
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// STTConfig selects and tunes the speech-to-text provider.
type STTConfig struct {
	// Provider is "hfspace" or "mock".
	Provider string `yaml:"provider"`

	// Endpoint is the inference URL for the hfspace provider.
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates against the endpoint. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key"`

	// SampleRate is the rate audio is conditioned to before upload.
	SampleRate int `yaml:"sample_rate"`

	// MaxRetries bounds 503 retries.
	MaxRetries int `yaml:"max_retries"`

	// RequestTimeout bounds one transcription request.
	RequestTimeout Duration `yaml:"request_timeout"`
}

// TTSConfig selects and tunes the text-to-speech provider.
type TTSConfig struct {
	// Provider is "bark" or "mock".
	Provider string `yaml:"provider"`

	// Endpoint is the synthesis URL for the bark provider.
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates against the endpoint. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key"`

	// VoicePreset names the synthesis voice.
	VoicePreset string `yaml:"voice_preset"`

	// SampleRate is the output rate synthesized audio is resampled to.
	SampleRate int `yaml:"sample_rate"`

	// RequestTimeout bounds one synthesis request.
	RequestTimeout Duration `yaml:"request_timeout"`
}

// LLMConfig selects and tunes the language-model provider.
type LLMConfig struct {
	// Provider is "openai", "anyllm" or "mock".
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key"`

	// Model names the model, e.g. "gpt-4o-mini".
	Model string `yaml:"model"`

	// AnyLLMProvider selects the backend when Provider is "anyllm"
	// (e.g., "ollama", "gemini", "anthropic").
	AnyLLMProvider string `yaml:"anyllm_provider"`

	// Temperature is the sampling temperature.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens bounds response length.
	MaxTokens int `yaml:"max_tokens"`
}

// PipelineConfig tunes the speech, tool, and vision pipeline.
type PipelineConfig struct {
	// MaxSpeechDuration forces a speech session to complete.
	MaxSpeechDuration Duration `yaml:"max_speech_duration"`

	// MinSpeechDuration discards bursts shorter than this.
	MinSpeechDuration Duration `yaml:"min_speech_duration"`

	// SpeechGap completes a session when no audio arrives for longer.
	SpeechGap Duration `yaml:"speech_gap"`

	// EnableEnhancedTools turns the tool workflow on. Defaults to true;
	// a nil value means unset.
	EnableEnhancedTools *bool `yaml:"enable_enhanced_tools"`

	// WorkflowTimeout bounds one tool workflow run.
	WorkflowTimeout Duration `yaml:"workflow_timeout"`

	// MaxToolRetries bounds tool-call retries within a workflow.
	MaxToolRetries int `yaml:"max_tool_retries"`

	// QualityThreshold gates tool answers; below it the turn falls back to a
	// direct response. Range [0, 1].
	QualityThreshold float64 `yaml:"quality_threshold"`

	// MaxImageSize is the longest screen-capture edge in pixels after resize.
	MaxImageSize int `yaml:"max_image_size"`

	// AnalysisInterval buckets the screen-analysis cache key.
	AnalysisInterval Duration `yaml:"analysis_interval"`

	// ScreenCacheTTL expires cached screen analyses.
	ScreenCacheTTL Duration `yaml:"screen_cache_ttl"`

	// MemoryLimit caps per-session conversation entries.
	MemoryLimit int `yaml:"memory_limit"`

	// StageWorkers bounds concurrent work per pipeline stage.
	StageWorkers int `yaml:"stage_workers"`
}

// ToolsEnabled reports the effective enable_enhanced_tools value.
func (p PipelineConfig) ToolsEnabled() bool {
	return p.EnableEnhancedTools == nil || *p.EnableEnhancedTools
}

// PerfConfig tunes the performance monitor.
type PerfConfig struct {
	// HistoryLimit caps retained samples per service.
	HistoryLimit int `yaml:"history_limit"`

	// Window is the rolling-average sample count.
	Window int `yaml:"window"`

	// Thresholds maps service name (stt, multimodal, tts, total_pipeline) to
	// the duration above which a sample logs a slow-operation advisory.
	Thresholds map[string]Duration `yaml:"thresholds"`
}

// ThresholdSeconds converts Thresholds to the float-seconds form the monitor
// consumes. Returns nil when no thresholds are configured.
func (p PerfConfig) ThresholdSeconds() map[string]float64 {
	if len(p.Thresholds) == 0 {
		return nil
	}
	out := make(map[string]float64, len(p.Thresholds))
	for k, v := range p.Thresholds {
		out[k] = v.Std().Seconds()
	}
	return out
}
