package coordinator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

type slotUpdateRequest struct {
	SlotID string          `json:"slot_id"`
	Param  string          `json:"param"`
	Value  json.RawMessage `json:"value"`
}

// UpdateHandler handles POST /api/slots/update: a single-parameter live
// change to a running slot.
func (c *Coordinator) UpdateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req slotUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()
		if req.SlotID == "" || req.Param == "" {
			http.Error(w, "slot_id and param are required", http.StatusBadRequest)
			return
		}

		var value any
		if len(req.Value) > 0 {
			if err := json.Unmarshal(req.Value, &value); err != nil {
				http.Error(w, "Invalid value", http.StatusBadRequest)
				return
			}
		}

		if err := c.UpdateSlotParam(req.SlotID, req.Param, value); err != nil {
			slog.Warn("Slot update rejected", "slot", req.SlotID, "param", req.Param, "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// SlotsHandler handles GET /api/slots: the running slot definitions,
// including resolved mode defaults and generated ids.
func (c *Coordinator) SlotsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.Slots()); err != nil {
			slog.Error("Failed to encode slot list", "error", err)
		}
	}
}
