package source

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// HassSource subscribes to Home Assistant state changes over the
// websocket API. It authenticates, fetches a full state snapshot, then
// listens for state_changed events. A lost connection is retried with
// backoff until Close is called.
type HassSource struct {
	url   string
	token string
	set   *subscriberSet

	mu     sync.Mutex
	conn   *websocket.Conn
	msgID  int64
	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewHassSource starts the connection loop immediately. Subscribers do
// not have to wait for the connection: states arrive as soon as the
// snapshot lands.
func NewHassSource(url, token string) *HassSource {
	h := &HassSource{
		url:   url,
		token: token,
		set:   newSubscriberSet(),
		done:  make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

func (h *HassSource) Subscribe(entityIDs []string, fn Listener) (func(), error) {
	return h.set.add(entityIDs, fn), nil
}

func (h *HassSource) CurrentState(entityID string) string {
	return h.set.state(entityID)
}

func (h *HassSource) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	close(h.done)
	h.mu.Lock()
	if h.conn != nil {
		h.conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}

func (h *HassSource) run() {
	defer h.wg.Done()
	backoff := time.Second
	for {
		if h.closed.Load() {
			return
		}
		err := h.connectAndListen()
		if h.closed.Load() {
			return
		}
		slog.Warn("Home Assistant connection lost, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-h.done:
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

type hassMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

type hassState struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

type hassStateChange struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string     `json:"entity_id"`
		NewState *hassState `json:"new_state"`
	} `json:"data"`
}

func (h *HassSource) connectAndListen() error {
	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", h.url, err)
	}
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	defer conn.Close()

	if err := h.authenticate(conn); err != nil {
		return err
	}
	slog.Info("Connected to Home Assistant", "url", h.url)

	statesID := h.nextID()
	if err := conn.WriteJSON(map[string]any{"id": statesID, "type": "get_states"}); err != nil {
		return fmt.Errorf("requesting state snapshot: %w", err)
	}
	subID := h.nextID()
	if err := conn.WriteJSON(map[string]any{
		"id": subID, "type": "subscribe_events", "event_type": "state_changed",
	}); err != nil {
		return fmt.Errorf("subscribing to state changes: %w", err)
	}

	for {
		var msg hassMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("reading message: %w", err)
		}
		switch {
		case msg.Type == "result" && msg.ID == statesID:
			h.applySnapshot(msg.Result)
		case msg.Type == "result" && msg.Success != nil && !*msg.Success:
			slog.Warn("Home Assistant command failed", "id", msg.ID)
		case msg.Type == "event":
			h.applyEvent(msg.Event)
		}
	}
}

// authenticate performs the auth_required / auth / auth_ok handshake.
func (h *HassSource) authenticate(conn *websocket.Conn) error {
	var hello hassMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("reading auth challenge: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected first message type %q", hello.Type)
	}
	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": h.token}); err != nil {
		return fmt.Errorf("sending auth token: %w", err)
	}
	var reply hassMessage
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("reading auth reply: %w", err)
	}
	if reply.Type != "auth_ok" {
		return fmt.Errorf("authentication rejected: %s", reply.Type)
	}
	return nil
}

func (h *HassSource) applySnapshot(result json.RawMessage) {
	var states []hassState
	if err := json.Unmarshal(result, &states); err != nil {
		slog.Warn("Failed to decode state snapshot", "error", err)
		return
	}
	slog.Debug("Received state snapshot", "entities", len(states))
	for _, s := range states {
		h.set.publish(s.EntityID, s.State)
	}
}

func (h *HassSource) applyEvent(event json.RawMessage) {
	var change hassStateChange
	if err := json.Unmarshal(event, &change); err != nil {
		slog.Warn("Failed to decode state_changed event", "error", err)
		return
	}
	if change.EventType != "state_changed" || change.Data.NewState == nil {
		return
	}
	h.set.publish(change.Data.EntityID, change.Data.NewState.State)
}

func (h *HassSource) nextID() int64 {
	return atomic.AddInt64(&h.msgID, 1)
}
