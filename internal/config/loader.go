package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per pipeline stage.
// Used by [Validate] to reject unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"hfspace", "mock"},
	"tts": {"bark", "mock"},
	"llm": {"openai", "anyllm", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references in
// secret-bearing fields, applies defaults, and validates the result. Useful
// in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv resolves ${VAR} references in the fields that typically carry
// secrets so keys never have to live in the config file itself.
func expandEnv(cfg *Config) {
	cfg.STT.Endpoint = os.ExpandEnv(cfg.STT.Endpoint)
	cfg.STT.APIKey = os.ExpandEnv(cfg.STT.APIKey)
	cfg.TTS.Endpoint = os.ExpandEnv(cfg.TTS.Endpoint)
	cfg.TTS.APIKey = os.ExpandEnv(cfg.TTS.APIKey)
	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
}

// applyDefaults fills zero values with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.ToolServer.ConnectTimeout == 0 {
		cfg.ToolServer.ConnectTimeout = Duration(10 * time.Second)
	}

	if cfg.STT.Provider == "" {
		cfg.STT.Provider = "mock"
	}
	if cfg.STT.SampleRate == 0 {
		cfg.STT.SampleRate = 16000
	}
	if cfg.STT.MaxRetries == 0 {
		cfg.STT.MaxRetries = 3
	}
	if cfg.STT.RequestTimeout == 0 {
		cfg.STT.RequestTimeout = Duration(30 * time.Second)
	}

	if cfg.TTS.Provider == "" {
		cfg.TTS.Provider = "mock"
	}
	if cfg.TTS.VoicePreset == "" {
		cfg.TTS.VoicePreset = "default"
	}
	if cfg.TTS.SampleRate == 0 {
		cfg.TTS.SampleRate = 24000
	}
	if cfg.TTS.RequestTimeout == 0 {
		cfg.TTS.RequestTimeout = Duration(60 * time.Second)
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "mock"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}

	p := &cfg.Pipeline
	if p.MaxSpeechDuration == 0 {
		p.MaxSpeechDuration = Duration(30 * time.Second)
	}
	if p.MinSpeechDuration == 0 {
		p.MinSpeechDuration = Duration(500 * time.Millisecond)
	}
	if p.SpeechGap == 0 {
		p.SpeechGap = Duration(2 * time.Second)
	}
	if p.WorkflowTimeout == 0 {
		p.WorkflowTimeout = Duration(45 * time.Second)
	}
	if p.MaxToolRetries == 0 {
		p.MaxToolRetries = 2
	}
	if p.QualityThreshold == 0 {
		p.QualityThreshold = 0.6
	}
	if p.MaxImageSize == 0 {
		p.MaxImageSize = 1024
	}
	if p.AnalysisInterval == 0 {
		p.AnalysisInterval = Duration(10 * time.Second)
	}
	if p.ScreenCacheTTL == 0 {
		p.ScreenCacheTTL = Duration(30 * time.Second)
	}
	if p.MemoryLimit == 0 {
		p.MemoryLimit = 50
	}
	if p.StageWorkers == 0 {
		p.StageWorkers = 4
	}

	if cfg.Perf.HistoryLimit == 0 {
		cfg.Perf.HistoryLimit = 1000
	}
	if cfg.Perf.Window == 0 {
		cfg.Perf.Window = 100
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}

	if cfg.ToolServer.Enabled && len(cfg.ToolServer.Command) == 0 {
		errs = append(errs, errors.New("toolserver.command is required when toolserver.enabled is true"))
	}

	errs = append(errs, validateProviderName("stt", cfg.STT.Provider)...)
	errs = append(errs, validateProviderName("tts", cfg.TTS.Provider)...)
	errs = append(errs, validateProviderName("llm", cfg.LLM.Provider)...)

	if cfg.STT.Provider == "hfspace" && cfg.STT.Endpoint == "" {
		errs = append(errs, errors.New("stt.endpoint is required for the hfspace provider"))
	}
	if cfg.TTS.Provider == "bark" && cfg.TTS.Endpoint == "" {
		errs = append(errs, errors.New("tts.endpoint is required for the bark provider"))
	}
	if cfg.LLM.Provider == "openai" && cfg.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required for the openai provider"))
	}
	if cfg.LLM.Provider == "anyllm" && cfg.LLM.AnyLLMProvider == "" {
		errs = append(errs, errors.New("llm.anyllm_provider is required for the anyllm provider"))
	}
	if cfg.LLM.Provider != "mock" && cfg.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required for the %s provider", cfg.LLM.Provider))
	}

	p := cfg.Pipeline
	if p.QualityThreshold < 0 || p.QualityThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.quality_threshold %.2f is out of range [0, 1]", p.QualityThreshold))
	}
	if p.MinSpeechDuration >= p.MaxSpeechDuration {
		errs = append(errs, fmt.Errorf("pipeline.min_speech_duration %s must be below max_speech_duration %s",
			p.MinSpeechDuration.Std(), p.MaxSpeechDuration.Std()))
	}
	if p.StageWorkers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.stage_workers %d must be at least 1", p.StageWorkers))
	}
	if p.MemoryLimit < 1 {
		errs = append(errs, fmt.Errorf("pipeline.memory_limit %d must be at least 1", p.MemoryLimit))
	}

	for name := range cfg.Perf.Thresholds {
		switch name {
		case "stt", "multimodal", "tts", "total_pipeline":
		default:
			slog.Warn("unknown perf threshold service; it will never match a sample", "service", name)
		}
	}

	return errors.Join(errs...)
}

// validateProviderName returns an error when name is not a recognised
// provider for the given stage.
func validateProviderName(stage, name string) []error {
	known := ValidProviderNames[stage]
	if slices.Contains(known, name) {
		return nil
	}
	return []error{fmt.Errorf("%s.provider %q is invalid; valid values: %v", stage, name, known)}
}
