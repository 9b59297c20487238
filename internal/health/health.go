// Package health serves liveness and readiness probes.
//
//   - /healthz answers 200 whenever the process can serve HTTP.
//   - /readyz answers 200 only when every registered dependency check
//     passes, 503 otherwise.
//
// The response body is JSON: a "status" field plus one entry per check with
// its outcome and how long it took.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Check probes one dependency. It must respect context cancellation and
// return nil when the dependency is usable.
type Check func(ctx context.Context) error

// Handler evaluates registered checks on each readiness request. Checks are
// fixed after construction; the handler is safe for concurrent use.
type Handler struct {
	names   []string
	checks  map[string]Check
	timeout time.Duration
}

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// WithCheckTimeout caps a single check's runtime. Default 5 seconds.
func WithCheckTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) { h.timeout = d }
}

// NewHandler creates an empty [Handler].
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		checks:  make(map[string]Check),
		timeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// AddCheck registers a named dependency check. Checks run in registration
// order on every /readyz request.
func (h *Handler) AddCheck(name string, check Check) {
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
	}
	h.checks[name] = check
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

type checkResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

type probeResult struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Healthz is the liveness probe. It always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResult{Status: "ok"})
}

// Readyz is the readiness probe. Each check runs with its own deadline
// derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := probeResult{
		Status: "ok",
		Checks: make(map[string]checkResult, len(h.names)),
	}
	code := http.StatusOK

	for _, name := range h.names {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		start := time.Now()
		err := h.checks[name](ctx)
		elapsed := time.Since(start)
		cancel()

		cr := checkResult{Status: "ok", Duration: elapsed.Round(time.Millisecond).String()}
		if err != nil {
			cr.Status = "fail"
			cr.Error = err.Error()
			res.Status = "fail"
			code = http.StatusServiceUnavailable
		}
		res.Checks[name] = cr
	}

	writeJSON(w, code, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
