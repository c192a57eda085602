package handler

import (
	"encoding/json"
	"net/http"

	"reminder-dispatcher/internal/logx"
	"reminder-dispatcher/internal/scheduler"
)

// Triggerer accepts on-demand pass requests without blocking.
type Triggerer interface {
	Trigger(source string) scheduler.TriggerResult
}

type TriggerHandler struct {
	sched Triggerer
	log   logx.Logger
}

func NewTriggerHandler(s Triggerer, log logx.Logger) *TriggerHandler {
	return &TriggerHandler{
		sched: s,
		log:   log,
	}
}

// ServeHTTP answers 202 right away. The pass runs in the background; a request
// made while one is already pending is folded into it.
func (h *TriggerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res := h.sched.Trigger("http")
	h.log.Info("dispatch requested",
		logx.String("remote", r.RemoteAddr),
		logx.String("result", res.String()),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": res.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
