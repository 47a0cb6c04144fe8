package main

import (
	"encoding/json"
	"net/http"

	"github.com/arush/chatcore/pkg/queue"
)

type processRequest struct {
	QueueName string          `json:"queueName"`
	Type      string          `json:"type,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func (a *api) handleQueueProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QueueName == "" {
		http.Error(w, "queueName is required", http.StatusBadRequest)
		return
	}
	jobType := req.Type
	if jobType == "" {
		jobType = "manual"
	}
	jobID, err := a.jobs.Publish(r.Context(), req.QueueName, jobType, req.Payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "jobId": jobID})
}

func (a *api) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.jobs.Stats(r.Context()))
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	healths := make([]queue.Health, 0, len(a.workers))
	for _, wk := range a.workers {
		healths = append(healths, wk.Health())
	}
	degraded := a.store.Kind() == "memory" || a.jobs.Broker().Kind() == "memory"
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"degraded": degraded,
		"backends": map[string]string{
			"store":    a.store.Kind(),
			"presence": a.presence.Kind(),
			"queue":    a.jobs.Broker().Kind(),
		},
		"workers": healths,
	})
}
