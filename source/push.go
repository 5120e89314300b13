package source

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// PushSource accepts states injected by the process itself or through
// the HTTP API. It backs the /api/value endpoint and serves as the
// delivery channel for the audio source.
type PushSource struct {
	set *subscriberSet
}

func NewPushSource() *PushSource {
	return &PushSource{set: newSubscriberSet()}
}

func (p *PushSource) Subscribe(entityIDs []string, fn Listener) (func(), error) {
	return p.set.add(entityIDs, fn), nil
}

func (p *PushSource) CurrentState(entityID string) string {
	return p.set.state(entityID)
}

func (p *PushSource) Close() error { return nil }

// Publish injects a state update as if it came from an external system.
func (p *PushSource) Publish(entityID, state string) {
	p.set.publish(entityID, state)
}

type injectRequest struct {
	EntityID string          `json:"entity_id"`
	State    json.RawMessage `json:"state"`
}

// InjectHandler handles POST /api/value. The state may be a JSON string
// or a bare number.
func (p *PushSource) InjectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req injectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()
		if req.EntityID == "" {
			http.Error(w, "entity_id is required", http.StatusBadRequest)
			return
		}

		state, err := decodeState(req.State)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		slog.Debug("Injecting entity state", "entity", req.EntityID, "state", state)
		p.Publish(req.EntityID, state)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func decodeState(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("state is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return strconv.FormatFloat(num, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("state must be a string or a number")
}
