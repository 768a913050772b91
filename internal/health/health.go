// Package health serves the gateway's liveness and readiness endpoints.
//
//   - /healthz — liveness; 200 whenever the process can serve HTTP.
//   - /readyz  — readiness; evaluates dependency checkers and reports
//     per-stage pipeline health derived from recent latency samples.
//
// Readiness distinguishes three overall states: "ok" (200), "degraded"
// (200, a pipeline stage is performing poorly but every dependency is up),
// and "fail" (503, a dependency checker errored).
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxvista/voxvista/internal/perf"
)

// Overall status values reported by /readyz.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// checkTimeout bounds a single dependency probe.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check must return nil when the dependency is
// usable and must respect context cancellation.
type Checker struct {
	// Name keys the probe result in the readiness payload (e.g. "toolserver",
	// "stt").
	Name string

	Check func(ctx context.Context) error
}

// PipelineReporter supplies per-stage health ("good", "fair", "poor")
// derived from recent pipeline latencies. Implemented by [perf.Monitor].
type PipelineReporter interface {
	StageHealth() map[string]string
}

// Endpoints serves /healthz and /readyz. Construct with [New]; the checker
// list and reporter are fixed afterwards.
type Endpoints struct {
	checkers []Checker
	pipeline PipelineReporter
}

// Option is a functional option for [New].
type Option func(*Endpoints)

// WithChecker registers a dependency checker. Checkers run sequentially in
// registration order on every /readyz request.
func WithChecker(c Checker) Option {
	return func(e *Endpoints) { e.checkers = append(e.checkers, c) }
}

// WithPipeline attaches per-stage pipeline health to the readiness payload.
func WithPipeline(r PipelineReporter) Option {
	return func(e *Endpoints) { e.pipeline = r }
}

// New creates the health endpoints.
func New(opts ...Option) *Endpoints {
	e := &Endpoints{}
	for _, o := range opts {
		o(e)
	}
	return e
}

// report is the JSON body for both endpoints.
type report struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks,omitempty"`
	Pipeline map[string]string `json:"pipeline,omitempty"`
}

// Healthz is the liveness probe. A process that can serve HTTP is alive.
func (e *Endpoints) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, report{Status: StatusOK})
}

// Readyz is the readiness probe. Any failing checker yields 503 with status
// "fail"; a poor pipeline stage downgrades an otherwise passing probe to
// "degraded" without failing it (thresholds are advisory).
func (e *Endpoints) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{Status: StatusOK}

	if len(e.checkers) > 0 {
		rep.Checks = make(map[string]string, len(e.checkers))
	}
	for _, c := range e.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			rep.Checks[c.Name] = "fail: " + err.Error()
			rep.Status = StatusFail
		} else {
			rep.Checks[c.Name] = "ok"
		}
	}

	if e.pipeline != nil {
		rep.Pipeline = e.pipeline.StageHealth()
		if rep.Status == StatusOK {
			for _, h := range rep.Pipeline {
				if h == perf.HealthPoor {
					rep.Status = StatusDegraded
					break
				}
			}
		}
	}

	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeReport(w, code, rep)
}

// Register adds the /healthz and /readyz routes to mux.
func (e *Endpoints) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", e.Healthz)
	mux.HandleFunc("GET /readyz", e.Readyz)
}

func writeReport(w http.ResponseWriter, code int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		slog.Warn("encode health report", "error", err)
	}
}
