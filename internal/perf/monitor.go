// Package perf records per-stage pipeline durations and derives rolling
// health statistics and threshold advisories from them.
//
// The monitor is a process-wide singleton created at startup. Thresholds are
// advisory only: exceeding one logs a warning and colours the health summary
// but never fails a request.
package perf

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// Health states reported per service and overall.
const (
	HealthGood    = "good"
	HealthFair    = "fair"
	HealthPoor    = "poor"
	HealthUnknown = "unknown"
)

// Pipeline stage names used as the service key.
const (
	ServiceSTT        = "stt"
	ServiceMultimodal = "multimodal"
	ServiceTTS        = "tts"
	ServicePipeline   = "total_pipeline"
)

const (
	// DefaultHistoryLimit bounds the raw sample history.
	DefaultHistoryLimit = 1000

	// DefaultWindow is the rolling window of successful durations per service.
	DefaultWindow = 100

	// defaultThreshold applies to services without an explicit threshold.
	defaultThreshold = 5.0

	// minSamplesForRecommendation is how many requests a service needs before
	// it shows up in recommendations.
	minSamplesForRecommendation = 5
)

// DefaultThresholds are the advisory per-service duration ceilings in seconds.
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		ServiceSTT:        60.0,
		ServiceMultimodal: 20.0,
		ServiceTTS:        40.0,
		ServicePipeline:   60.0,
	}
}

// Sample is a single recorded measurement.
type Sample struct {
	Service   string
	Operation string
	Duration  float64
	Timestamp time.Time
	Success   bool
	Metadata  map[string]any
}

// ServiceSummary is the per-service slice of [Summary]. Duration statistics
// cover successful requests only.
type ServiceSummary struct {
	TotalRequests int     `json:"total_requests"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDuration   float64 `json:"avg_duration"`
	MinDuration   float64 `json:"min_duration"`
	MaxDuration   float64 `json:"max_duration"`
	HealthStatus  string  `json:"health_status"`
}

// Summary is the monitor's aggregate view, served as JSON on /stats.
type Summary struct {
	TotalMetrics  int                       `json:"total_metrics"`
	Services      map[string]ServiceSummary `json:"services"`
	OverallHealth string                    `json:"overall_health"`
}

// serviceStats is the mutable per-service aggregate.
type serviceStats struct {
	total     int
	successes int
	failures  int

	minDuration float64
	maxDuration float64
	avgDuration float64

	// recent holds the last window successful durations.
	recent []float64
}

// Option is a functional option for Monitor.
type Option func(*Monitor)

// WithHistoryLimit bounds the raw sample history. Default 1000.
func WithHistoryLimit(n int) Option {
	return func(m *Monitor) { m.historyLimit = n }
}

// WithWindow sets the rolling window size. Default 100.
func WithWindow(n int) Option {
	return func(m *Monitor) { m.window = n }
}

// WithThresholds replaces the advisory thresholds.
func WithThresholds(t map[string]float64) Option {
	return func(m *Monitor) { m.thresholds = t }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// Monitor aggregates performance samples. Safe for concurrent use; reads are
// eventually consistent with concurrent writes.
type Monitor struct {
	historyLimit int
	window       int
	thresholds   map[string]float64
	log          *slog.Logger

	mu       sync.Mutex
	history  []Sample
	services map[string]*serviceStats
}

// NewMonitor creates a Monitor with the default limits and thresholds.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		historyLimit: DefaultHistoryLimit,
		window:       DefaultWindow,
		thresholds:   DefaultThresholds(),
		log:          slog.Default(),
		services:     make(map[string]*serviceStats),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Record appends one measurement. duration is in seconds. metadata may be nil.
func (m *Monitor) Record(service, operation string, duration float64, success bool, metadata map[string]any) {
	m.mu.Lock()

	m.history = append(m.history, Sample{
		Service:   service,
		Operation: operation,
		Duration:  duration,
		Timestamp: time.Now(),
		Success:   success,
		Metadata:  metadata,
	})
	if len(m.history) > m.historyLimit {
		m.history = m.history[len(m.history)-m.historyLimit:]
	}

	stats, ok := m.services[service]
	if !ok {
		stats = &serviceStats{minDuration: math.Inf(1)}
		m.services[service] = stats
	}
	stats.total++
	if success {
		stats.successes++
		stats.recent = append(stats.recent, duration)
		if len(stats.recent) > m.window {
			stats.recent = stats.recent[len(stats.recent)-m.window:]
		}
		stats.minDuration = math.Min(stats.minDuration, duration)
		stats.maxDuration = math.Max(stats.maxDuration, duration)
		stats.avgDuration = mean(stats.recent)
	} else {
		stats.failures++
	}

	threshold := m.thresholdFor(service)
	m.mu.Unlock()

	if duration > threshold {
		m.log.Warn("performance advisory",
			"service", service,
			"operation", operation,
			"duration", duration,
			"threshold", threshold)
	}
}

// Start begins a scoped timer. The returned stop function records the elapsed
// time with the given success flag:
//
//	stop := monitor.Start(perf.ServiceSTT, "transcribe")
//	res, err := provider.Transcribe(ctx, chunk)
//	stop(err == nil)
func (m *Monitor) Start(service, operation string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		m.Record(service, operation, time.Since(start).Seconds(), success, nil)
	}
}

// Summary returns the aggregate per-service view.
func (m *Monitor) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Summary{
		TotalMetrics:  len(m.history),
		Services:      make(map[string]ServiceSummary, len(m.services)),
		OverallHealth: HealthGood,
	}

	for name, stats := range m.services {
		health := m.healthLocked(name, stats)

		minDuration := stats.minDuration
		if math.IsInf(minDuration, 1) {
			minDuration = 0
		}
		successRate := 0.0
		if stats.total > 0 {
			successRate = float64(stats.successes) / float64(stats.total) * 100
		}

		out.Services[name] = ServiceSummary{
			TotalRequests: stats.total,
			SuccessRate:   round(successRate, 1),
			AvgDuration:   round(stats.avgDuration, 2),
			MinDuration:   round(minDuration, 2),
			MaxDuration:   round(stats.maxDuration, 2),
			HealthStatus:  health,
		}

		switch {
		case health == HealthPoor:
			out.OverallHealth = HealthPoor
		case health == HealthFair && out.OverallHealth != HealthPoor:
			out.OverallHealth = HealthFair
		}
	}

	return out
}

// StageHealth reports the derived health of every service that has recorded
// at least one sample, keyed by service name. Used by the readiness endpoint
// to surface per-stage pipeline status.
func (m *Monitor) StageHealth() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.services))
	for name, stats := range m.services {
		out[name] = m.healthLocked(name, stats)
	}
	return out
}

// Recommendations returns natural-language tuning hints for services with
// enough data to judge.
func (m *Monitor) Recommendations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var recs []string
	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	sort.Strings(names)

	totalAvg := 0.0
	for _, name := range names {
		stats := m.services[name]
		totalAvg += stats.avgDuration

		if stats.total < minSamplesForRecommendation {
			continue
		}

		successRate := float64(stats.successes) / float64(stats.total)
		if successRate < 0.9 {
			recs = append(recs, fmt.Sprintf("Improve %s reliability (success rate: %.1f%%)", name, successRate*100))
		}
		if stats.avgDuration > m.thresholdFor(name) {
			recs = append(recs, fmt.Sprintf("Optimize %s performance (avg: %.1fs)", name, stats.avgDuration))
		}
	}

	if totalAvg > m.thresholdFor(ServicePipeline) {
		recs = append(recs, "Consider parallel processing to reduce total pipeline time")
	}
	if len(recs) == 0 {
		recs = append(recs, "Performance is within acceptable limits")
	}
	return recs
}

// Reset clears all recorded samples and statistics.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	m.services = make(map[string]*serviceStats)
}

// healthLocked derives a service's health from success rate and how its
// rolling average compares to the advisory threshold. Caller holds m.mu.
func (m *Monitor) healthLocked(name string, stats *serviceStats) string {
	if stats.total == 0 {
		return HealthUnknown
	}

	successRate := float64(stats.successes) / float64(stats.total)
	threshold := m.thresholdFor(name)

	switch {
	case successRate < 0.8 || stats.avgDuration > threshold*1.5:
		return HealthPoor
	case successRate < 0.95 || stats.avgDuration > threshold:
		return HealthFair
	default:
		return HealthGood
	}
}

func (m *Monitor) thresholdFor(service string) float64 {
	if t, ok := m.thresholds[service]; ok {
		return t
	}
	return defaultThreshold
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
