package config

import (
	"strings"
	"testing"
	"time"
)

const fullConfig = `
server:
  host: 127.0.0.1
  port: 9000
  log_level: debug
toolserver:
  enabled: true
  command: ["docker", "run", "-i", "--rm", "mcp/perplexity-ask"]
  connect_timeout: 5s
stt:
  provider: hfspace
  endpoint: https://api-inference.example.com/models/distil-whisper
  api_key: stt-key
  sample_rate: 16000
  max_retries: 2
  request_timeout: 20s
tts:
  provider: bark
  endpoint: https://bark.example.com/synthesize
  api_key: tts-key
  voice_preset: narrator
  sample_rate: 22050
  request_timeout: 45s
llm:
  provider: openai
  api_key: llm-key
  model: gpt-4o-mini
  temperature: 0.5
  max_tokens: 512
pipeline:
  max_speech_duration: 20s
  min_speech_duration: 400ms
  speech_gap: 1s
  enable_enhanced_tools: false
  workflow_timeout: 30s
  max_tool_retries: 1
  quality_threshold: 0.7
  max_image_size: 512
  analysis_interval: 5s
  screen_cache_ttl: 15s
  memory_limit: 20
  stage_workers: 2
perf:
  history_limit: 100
  window: 10
  thresholds:
    stt: 30s
    multimodal: 10s
`

func TestLoadFullConfig(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(fullConfig))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if got := cfg.Server.Addr(); got != "127.0.0.1:9000" {
		t.Errorf("Addr = %q, want 127.0.0.1:9000", got)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if !cfg.ToolServer.Enabled {
		t.Error("ToolServer.Enabled = false, want true")
	}
	if cfg.ToolServer.ConnectTimeout.Std() != 5*time.Second {
		t.Errorf("ConnectTimeout = %s, want 5s", cfg.ToolServer.ConnectTimeout.Std())
	}
	if cfg.STT.MaxRetries != 2 {
		t.Errorf("STT.MaxRetries = %d, want 2", cfg.STT.MaxRetries)
	}
	if cfg.TTS.VoicePreset != "narrator" {
		t.Errorf("TTS.VoicePreset = %q, want narrator", cfg.TTS.VoicePreset)
	}
	if cfg.LLM.Temperature != 0.5 {
		t.Errorf("LLM.Temperature = %v, want 0.5", cfg.LLM.Temperature)
	}
	if cfg.Pipeline.ToolsEnabled() {
		t.Error("ToolsEnabled = true, want false (explicitly disabled)")
	}
	if cfg.Pipeline.MinSpeechDuration.Std() != 400*time.Millisecond {
		t.Errorf("MinSpeechDuration = %s, want 400ms", cfg.Pipeline.MinSpeechDuration.Std())
	}
	if got := cfg.Perf.ThresholdSeconds(); got["stt"] != 30 || got["multimodal"] != 10 {
		t.Errorf("ThresholdSeconds = %v", got)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("server:\n  port: 8000\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if got := cfg.Server.Addr(); got != "0.0.0.0:8000" {
		t.Errorf("Addr = %q, want 0.0.0.0:8000", got)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.STT.Provider != "mock" || cfg.TTS.Provider != "mock" || cfg.LLM.Provider != "mock" {
		t.Errorf("default providers = %q/%q/%q, want mock/mock/mock",
			cfg.STT.Provider, cfg.TTS.Provider, cfg.LLM.Provider)
	}
	if cfg.STT.SampleRate != 16000 {
		t.Errorf("STT.SampleRate = %d, want 16000", cfg.STT.SampleRate)
	}
	if cfg.TTS.SampleRate != 24000 {
		t.Errorf("TTS.SampleRate = %d, want 24000", cfg.TTS.SampleRate)
	}
	if cfg.LLM.MaxTokens != 1024 {
		t.Errorf("LLM.MaxTokens = %d, want 1024", cfg.LLM.MaxTokens)
	}
	if !cfg.Pipeline.ToolsEnabled() {
		t.Error("ToolsEnabled = false, want true by default")
	}
	if cfg.Pipeline.MaxSpeechDuration.Std() != 30*time.Second {
		t.Errorf("MaxSpeechDuration = %s, want 30s", cfg.Pipeline.MaxSpeechDuration.Std())
	}
	if cfg.Pipeline.QualityThreshold != 0.6 {
		t.Errorf("QualityThreshold = %v, want 0.6", cfg.Pipeline.QualityThreshold)
	}
	if cfg.Pipeline.StageWorkers != 4 {
		t.Errorf("StageWorkers = %d, want 4", cfg.Pipeline.StageWorkers)
	}
	if cfg.Perf.HistoryLimit != 1000 || cfg.Perf.Window != 100 {
		t.Errorf("Perf defaults = %d/%d, want 1000/100", cfg.Perf.HistoryLimit, cfg.Perf.Window)
	}
	if cfg.Perf.ThresholdSeconds() != nil {
		t.Errorf("ThresholdSeconds = %v, want nil", cfg.Perf.ThresholdSeconds())
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("VOXVISTA_TEST_KEY", "secret-from-env")

	cfg, err := LoadFromReader(strings.NewReader(`
llm:
  provider: openai
  api_key: ${VOXVISTA_TEST_KEY}
  model: gpt-4o-mini
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.LLM.APIKey != "secret-from-env" {
		t.Errorf("APIKey = %q, want secret-from-env", cfg.LLM.APIKey)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  bogus_field: 1\n"))
	if err == nil {
		t.Fatal("LoadFromReader accepted an unknown field")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\n",
			want: "server.log_level",
		},
		{
			name: "bad stt provider",
			yaml: "stt:\n  provider: telepathy\n",
			want: "stt.provider",
		},
		{
			name: "hfspace without endpoint",
			yaml: "stt:\n  provider: hfspace\n",
			want: "stt.endpoint",
		},
		{
			name: "bark without endpoint",
			yaml: "tts:\n  provider: bark\n",
			want: "tts.endpoint",
		},
		{
			name: "openai without api key",
			yaml: "llm:\n  provider: openai\n  model: gpt-4o-mini\n",
			want: "llm.api_key",
		},
		{
			name: "anyllm without backend",
			yaml: "llm:\n  provider: anyllm\n  model: llama3\n",
			want: "llm.anyllm_provider",
		},
		{
			name: "toolserver enabled without command",
			yaml: "toolserver:\n  enabled: true\n",
			want: "toolserver.command",
		},
		{
			name: "quality threshold out of range",
			yaml: "pipeline:\n  quality_threshold: 1.5\n",
			want: "pipeline.quality_threshold",
		},
		{
			name: "min duration above max",
			yaml: "pipeline:\n  min_speech_duration: 40s\n  max_speech_duration: 30s\n",
			want: "pipeline.min_speech_duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("LoadFromReader accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDurationParsing(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("pipeline:\n  speech_gap: forever\n"))
	if err == nil {
		t.Fatal("LoadFromReader accepted an unparseable duration")
	}

	cfg, err := LoadFromReader(strings.NewReader("pipeline:\n  speech_gap: 1500ms\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Pipeline.SpeechGap.Std() != 1500*time.Millisecond {
		t.Errorf("SpeechGap = %s, want 1.5s", cfg.Pipeline.SpeechGap.Std())
	}
}
