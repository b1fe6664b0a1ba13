// Package health exposes liveness and readiness endpoints for the
// daemon, served beside the metrics handler. A check failure turns the
// response into 503 with the failing checks named, which is what a
// process supervisor needs to restart a hutch whose event source died.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
)

// Check reports one dependency's health; nil means healthy.
type Check func() error

// Registry holds named health checks.
type Registry struct {
	mu     sync.Mutex
	checks map[string]Check
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// Register adds a named check. Re-registering a name replaces it.
func (r *Registry) Register(checkName string, c Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[checkName] = c
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the aggregated health state: 200 with {"status":"ok"}
// when every check passes, 503 naming the failures otherwise.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		checks := make(map[string]Check, len(r.checks))
		for cn, c := range r.checks {
			checks[cn] = c
		}
		r.mu.Unlock()

		resp := response{Status: "ok", Checks: make(map[string]string, len(checks))}
		code := http.StatusOK
		for cn, c := range checks {
			if err := c(); err != nil {
				resp.Status = "unhealthy"
				resp.Checks[cn] = err.Error()
				code = http.StatusServiceUnavailable
			} else {
				resp.Checks[cn] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})
}
