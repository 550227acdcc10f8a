// Package health serves the engine's liveness and readiness endpoints.
//
//   - /healthz answers 200 whenever the process can serve HTTP.
//   - /readyz answers 200 only while every registered [Checker] passes:
//     in a full deployment that means character profiles are loaded, the
//     snapshot store answers a ping, and at least one LLM tier has a
//     breaker willing to admit calls.
//
// Responses are JSON: a top-level "status" of "ok" or "fail" and a "checks"
// map with each checker's outcome and, on failure, its error.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil while the dependency
// can serve traffic.
type Checker struct {
	// Name keys the check in the /readyz response ("store", "llm",
	// "profiles").
	Name string

	// Check pings the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Pinger is the reachability surface a storage backend exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker adapts a [Pinger] into a named [Checker]. The snapshot store
// is the usual subject.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Readier is the readiness surface a provider tier exposes: nil while at
// least one backend can accept calls.
type Readier interface {
	Ready() error
}

// ReadyChecker adapts a [Readier] into a named [Checker].
func ReadyChecker(name string, r Readier) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return r.Ready() }}
}

// checkResult is one checker's outcome in the /readyz response body.
type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// result is the response body for both endpoints.
type result struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction; the handler itself is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] over the given checkers.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200: a process that can run this handler is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each under a [checkTimeout]
// deadline derived from the request context, and returns 503 when any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]checkResult, len(h.checkers))
		allOK  = true
	)

	for _, c := range h.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := c.Check(ctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = checkResult{Status: "fail", Error: err.Error()}
				allOK = false
			} else {
				checks[c.Name] = checkResult{Status: "ok"}
			}
		}(c)
	}
	wg.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code, degrading to a canned 500
// body on encoding failure.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
