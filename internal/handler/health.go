package handler

import (
	"net/http"
	"time"

	"reminder-dispatcher/internal/worker"
)

// PassState exposes the dispatcher's read-only state.
type PassState interface {
	Running() bool
	LastReport() (worker.PassReport, bool)
}

type HealthHandler struct {
	state PassState
	next  func() time.Time
}

// NewHealthHandler reports liveness plus a summary of the last pass. next may
// be nil when no schedule runs.
func NewHealthHandler(state PassState, next func() time.Time) *HealthHandler {
	return &HealthHandler{state: state, next: next}
}

type healthResponse struct {
	Status   string             `json:"status"`
	Running  bool               `json:"running"`
	NextPass *time.Time         `json:"next_pass,omitempty"`
	LastPass *worker.PassReport `json:"last_pass,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{Status: "ok", Running: h.state.Running()}
	if last, ok := h.state.LastReport(); ok {
		resp.LastPass = &last
	}
	if h.next != nil {
		if n := h.next(); !n.IsZero() {
			resp.NextPass = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Routes mounts the operator endpoints.
func Routes(trigger *TriggerHandler, health *HealthHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/dispatch", trigger)
	mux.Handle("/healthz", health)
	return mux
}
