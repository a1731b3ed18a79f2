// Package health serves the relay's liveness and readiness probes.
//
//   - /healthz always returns 200 while the process can serve HTTP. The body
//     carries the current session state when a state source is configured.
//   - /readyz returns 200 only when every registered [Checker] passes. The
//     relay registers one that fails once the session loop has terminated.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail").
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// StateSource reports the current state of a long-running component.
// session.Loop satisfies it.
type StateSource interface {
	StateName() string
	Terminated() bool
}

// LoopChecker returns a Checker that fails once src reports termination.
func LoopChecker(name string, src StateSource) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if src.Terminated() {
				return fmt.Errorf("%s is %s", name, src.StateName())
			}
			return nil
		},
	}
}

type result struct {
	Status string            `json:"status"`
	State  string            `json:"state,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	state    StateSource
	checkers []Checker
}

// New creates a Handler. state may be nil.
func New(state StateSource, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{state: state, checkers: c}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := result{Status: "ok"}
	if h.state != nil {
		res.State = h.state.StateName()
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	if h.state != nil {
		res.State = h.state.StateName()
	}
	status := http.StatusOK
	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
