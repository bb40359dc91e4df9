// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 while the process is up. GET /readyz runs every
// registered [Checker] and answers 503 only when a critical one fails; a
// failing optional checker marks the instance "degraded" but keeps it ready.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Overall probe outcomes.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// perCheckTimeout bounds each Check call.
const perCheckTimeout = 5 * time.Second

// Checker probes one dependency.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error

	// Optional failures degrade readiness instead of failing it. With no
	// model loaded the gateway still serves history, for example.
	Optional bool
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// add folds one check result into the report and returns whether it was a
// critical failure.
func (r *report) add(c Checker, err error) (critical bool) {
	if err == nil {
		r.Checks[c.Name] = StatusOK
		return false
	}
	r.Checks[c.Name] = StatusFail + ": " + err.Error()
	switch {
	case !c.Optional:
		r.Status = StatusFail
		return true
	case r.Status == StatusOK:
		r.Status = StatusDegraded
	}
	return false
}

// Handler evaluates a fixed set of checkers.
type Handler struct {
	checkers []Checker
}

func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: StatusOK})
}

// Readyz runs all checkers in parallel and reports each result.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := h.run(r.Context())

	rep := report{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK
	for i, c := range h.checkers {
		if rep.add(c, results[i]) {
			code = http.StatusServiceUnavailable
		}
	}
	respond(w, code, rep)
}

func (h *Handler) run(ctx context.Context) []error {
	results := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, perCheckTimeout)
			defer cancel()
			results[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func respond(w http.ResponseWriter, code int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}
