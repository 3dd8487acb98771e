package clock

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/castmarket/settlement-engine/internal/event"
	"github.com/castmarket/settlement-engine/internal/store"
)

// HandleAdvanceWeek handles POST /api/v1/admin/advance-week.
func (c *Clock) HandleAdvanceWeek(w http.ResponseWriter, r *http.Request) {
	report, err := c.AdvanceWeek(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// EventRequest is the JSON body for POST /api/v1/admin/episodes/events.
type EventRequest struct {
	Kind     string `json:"kind"`
	Survivor string `json:"survivor"`
}

// HandleRecordEvent handles POST /api/v1/admin/episodes/events.
func (c *Clock) HandleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Kind == "" || req.Survivor == "" {
		writeError(w, "kind and survivor are required", http.StatusBadRequest)
		return
	}
	ep, err := c.RecordEvent(r.Context(), req.Kind, req.Survivor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

// BroadcastRequest is the JSON body for POST /api/v1/admin/episodes/broadcast.
type BroadcastRequest struct {
	Action string `json:"action"` // air_start|air_end|tribal_start|tribal_end
}

// HandleBroadcast handles POST /api/v1/admin/episodes/broadcast: the manual
// controls for the on-air and tribal-council flags.
func (c *Clock) HandleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var err error
	switch req.Action {
	case "air_start":
		err = c.StartAir(ctx)
	case "air_end":
		err = c.EndAir(ctx)
	case "tribal_start":
		err = c.SetTribalCouncil(ctx, true)
	case "tribal_end":
		err = c.SetTribalCouncil(ctx, false)
	default:
		writeError(w, "unknown action: "+req.Action, http.StatusBadRequest)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ep, err := c.store.GetCurrentEpisode(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

// HandleCurrentEpisode handles GET /api/v1/episodes/current.
func (c *Clock) HandleCurrentEpisode(w http.ResponseWriter, r *http.Request) {
	ep, err := c.store.GetCurrentEpisode(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, event.ErrUnknownKind):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
